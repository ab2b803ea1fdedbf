package pipeline

import "testing"

func TestVerdict_String(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{Pass, "pass"},
		{Retain, "retain"},
		{Bypass, "bypass"},
		{Verdict(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", int(tt.v), got, tt.want)
		}
	}
}

func TestMode_String(t *testing.T) {
	if ModeSync.String() != "sync" || ModeAsync.String() != "async" {
		t.Error("unexpected mode names")
	}
	if Mode(7).String() != "unknown" {
		t.Error("unexpected name for invalid mode")
	}
}
