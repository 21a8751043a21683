package types

import "testing"

func TestCanonicalJSONStableKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 2, "b": 1}

	jsonA, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON(a): %v", err)
	}
	jsonB, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON(b): %v", err)
	}
	if jsonA != jsonB {
		t.Fatalf("expected identical canonical encodings, got %q vs %q", jsonA, jsonB)
	}
}

func TestCanonicalJSONNoTrailingNewline(t *testing.T) {
	s, err := CanonicalJSON(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if len(s) == 0 || s[len(s)-1] == '\n' {
		t.Fatalf("expected no trailing newline, got %q", s)
	}
}

func TestTaskStatusIsActiveIsTerminal(t *testing.T) {
	cases := []struct {
		status             TaskStatus
		wantActive         bool
		wantTerminal       bool
	}{
		{TaskPending, true, false},
		{TaskInProgress, true, false},
		{TaskCompleted, false, true},
		{TaskAbandoned, false, true},
	}
	for _, c := range cases {
		if got := c.status.IsActive(); got != c.wantActive {
			t.Errorf("%s.IsActive() = %v, want %v", c.status, got, c.wantActive)
		}
		if got := c.status.IsTerminal(); got != c.wantTerminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", c.status, got, c.wantTerminal)
		}
	}
}
