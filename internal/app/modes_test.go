package app

import "testing"

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"scholar", ModeScholar, true},
		{" Scholar ", ModeScholar, true},
		{"ADVANCED", ModeAdvanced, true},
		{"child", Mode(""), false},
		{"", Mode(""), false},
	}
	for _, tc := range cases {
		got, ok := ParseMode(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseMode(%q) = %q, %v", tc.in, got, ok)
		}
	}
}

func TestModeAvailability(t *testing.T) {
	if !IsAvailable(ModeScholar) {
		t.Error("scholar must be available")
	}
	if IsAvailable(ModeAdvanced) {
		t.Error("advanced is a placeholder and must be unavailable")
	}
}
