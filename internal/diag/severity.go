package diag

import "github.com/fatih/color"

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevNote is for supplementary information.
	SevNote Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
	// SevFatal ends the run.
	SevFatal
)

func (s Severity) String() string {
	switch s {
	case SevNote:
		return "note"
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	case SevFatal:
		return "fatal error"
	}
	return "unknown"
}

func (s Severity) color() *color.Color {
	switch s {
	case SevNote:
		return color.New(color.FgCyan, color.Bold)
	case SevWarning:
		return color.New(color.FgMagenta, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
