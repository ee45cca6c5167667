package app

import "strings"

// Mode selects the answer register of the knowledge backend.
type Mode string

const (
	// ModeScholar gives sourced, verse-cited answers. The default.
	ModeScholar Mode = "scholar"
	// ModeAdvanced is reserved for a deeper-analysis backend that is not
	// deployed yet; the UI shows it disabled.
	ModeAdvanced Mode = "advanced"
)

func ParseMode(value string) (Mode, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case string(ModeScholar):
		return ModeScholar, true
	case string(ModeAdvanced):
		return ModeAdvanced, true
	default:
		return Mode(""), false
	}
}

// IsAvailable reports whether a mode can actually be sent to the backend.
func IsAvailable(mode Mode) bool {
	return mode == ModeScholar
}

func ModeLabel(mode Mode) string {
	switch mode {
	case ModeScholar:
		return "Scholar"
	case ModeAdvanced:
		return "Advanced (coming soon)"
	default:
		return string(mode)
	}
}
