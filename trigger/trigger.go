// Package trigger decides, from the text of a line up to the cursor,
// whether the cursor sits inside an unclosed citation command.
package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/signadot/zotero-ls/debug"
)

// ErrUnsupportedFiletype is returned when no trigger grammar exists for
// a filetype or file extension.
var ErrUnsupportedFiletype = errors.New("unsupported filetype")

// Match is the result of running a Detector over a line prefix.
// Start and End are byte offsets into the prefix; when Matched is true
// End is always len(prefix).
type Match struct {
	Matched bool
	Start   int
	End     int
}

// Detector recognizes an incomplete citation command at the end of a line
// prefix. Implementations perform no I/O.
type Detector interface {
	Detect(prefix string) Match
}

// ForFiletype returns the detector for ft.
func ForFiletype(ft string) (Detector, error) {
	switch ft {
	case "tex", "latex":
		return TeX, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFiletype, ft)
	}
}

// FiletypeFromExtension maps a file extension, with or without its
// leading dot, to a filetype name.
func FiletypeFromExtension(ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	switch ext {
	case "tex", "latex":
		return ext, nil
	case "md", "qmd", "markdown":
		return "markdown", nil
	default:
		return "", fmt.Errorf("%w: file extension %q", ErrUnsupportedFiletype, ext)
	}
}

// FiletypeFromLanguageID maps an LSP language identifier to a filetype name.
func FiletypeFromLanguageID(id string) (string, error) {
	switch id {
	case "tex", "latex":
		return id, nil
	case "plaintex", "context":
		return "tex", nil
	case "markdown", "quarto", "rmd":
		return "markdown", nil
	default:
		return "", fmt.Errorf("%w: language %q", ErrUnsupportedFiletype, id)
	}
}

func logMatch(name, prefix string, m Match) {
	if !debug.Trigger() {
		return
	}
	slog.Debug("trigger", "grammar", name, "prefix", prefix, "matched", m.Matched, "start", m.Start, "end", m.End)
}
