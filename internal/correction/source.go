package correction

import "context"

// Correction sources reported as the "source" metric attribute.
const (
	SourceText   = "text"
	SourceBatch  = "batch"
	SourceStream = "stream"
	SourceSpeech = "speech"
	SourceCLI    = "cli"
)

type sourceKey struct{}

// WithSource tags ctx with the origin of the text being corrected.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set by [WithSource], or [SourceText].
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceText
}
