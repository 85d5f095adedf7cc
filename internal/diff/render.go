package diff

import (
	"html"
	"strings"
)

// CSS classes used by [RenderHTML].
const (
	ClassAdded   = "highlight-added"
	ClassRemoved = "highlight-removed"
)

// RenderHTML renders segs as escaped HTML. Added and removed text is wrapped
// in a span carrying [ClassAdded] or [ClassRemoved]; unchanged text is
// emitted as-is after escaping.
func RenderHTML(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		text := html.EscapeString(s.Value)
		switch s.Kind {
		case Added:
			sb.WriteString(`<span class="` + ClassAdded + `">`)
			sb.WriteString(text)
			sb.WriteString("</span>")
		case Removed:
			sb.WriteString(`<span class="` + ClassRemoved + `">`)
			sb.WriteString(text)
			sb.WriteString("</span>")
		default:
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// RenderText renders segs for a terminal: {+added+} and [-removed-].
func RenderText(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case Added:
			sb.WriteString("{+" + s.Value + "+}")
		case Removed:
			sb.WriteString("[-" + s.Value + "-]")
		default:
			sb.WriteString(s.Value)
		}
	}
	return sb.String()
}
