package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	RulesChanged      bool
	VocabularyChanged bool
	DiffChanged       bool

	// RestartRequired names top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RulesChanged || d.VocabularyChanged || d.DiffChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.RulesChanged = !slices.Equal(old.Rules.Extra, new.Rules.Extra)
	d.VocabularyChanged = !slices.Equal(old.Vocabulary.Terms, new.Vocabulary.Terms) ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.FuzzyThreshold != new.Vocabulary.FuzzyThreshold
	d.DiffChanged = old.Diff != new.Diff

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Refine, new.Refine) {
		d.RestartRequired = append(d.RestartRequired, "refine")
	}
	if !reflect.DeepEqual(old.Speech, new.Speech) {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if old.Feedback != new.Feedback {
		d.RestartRequired = append(d.RestartRequired, "feedback")
	}
	if old.Batch != new.Batch {
		d.RestartRequired = append(d.RestartRequired, "batch")
	}
	if old.Telemetry.Ratio() != new.Telemetry.Ratio() || old.Telemetry.Instance != new.Telemetry.Instance {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
