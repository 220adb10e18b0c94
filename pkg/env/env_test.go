package env

import "testing"

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("EDUFLOW_AGENT_ID", "  agent-7 ")
	if got := Get("EDUFLOW_AGENT_ID", "x"); got != "agent-7" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	t.Setenv("EDUFLOW_AGENT_ID", "   ")
	if got := Get("EDUFLOW_AGENT_ID", "x"); got != "x" {
		t.Fatalf("expected fallback for blank value, got %q", got)
	}
}

func TestPositiveInt(t *testing.T) {
	cases := map[string]int{"": 50, "abc": 50, "0": 50, "-3": 50, "12": 12}
	for raw, want := range cases {
		t.Setenv("LOG_FILE_MAX_MB", raw)
		if got := PositiveInt("LOG_FILE_MAX_MB", 50); got != want {
			t.Errorf("PositiveInt(%q) = %d, want %d", raw, got, want)
		}
	}
}
