package contexttagger

import "testing"

func TestExtractTextRead(t *testing.T) {
	text := extractText("Read", map[string]any{
		"type": "text",
		"file": map[string]any{"filePath": "main.go", "content": "package main\n"},
	})
	if text != "package main\n" {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextReadWithoutNestedFileFallsBackToJSON(t *testing.T) {
	text := extractText("Read", map[string]any{"content": "package main\n"})
	if text != `{"content":"package main\n"}` {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextBashConcatenatesStreams(t *testing.T) {
	text := extractText("Bash", map[string]any{"stdout": "ok", "stderr": "warn"})
	if text != "okwarn" {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextEditPrefersNewString(t *testing.T) {
	text := extractText("Edit", map[string]any{"newString": "updated", "content": "stale"})
	if text != "updated" {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextEditWithFilePathPrefersNewString(t *testing.T) {
	text := extractText("Edit", map[string]any{"filePath": "main.go", "oldString": "x", "newString": "updated"})
	if text != "updated" {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextEditEmptyNewStringFallsBackToPathMarker(t *testing.T) {
	text := extractText("Edit", map[string]any{"filePath": "main.go", "oldString": "x", "newString": ""})
	if text != "edited:main.go" {
		t.Fatalf("got %q, want path marker", text)
	}
}

func TestExtractTextGenericTextField(t *testing.T) {
	text := extractText("WebSearch", map[string]any{"text": "search results"})
	if text != "search results" {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextFallsBackToJSON(t *testing.T) {
	text := extractText("Unknown", map[string]any{"foo": "bar"})
	if text != `{"foo":"bar"}` {
		t.Fatalf("got %q", text)
	}
}

func TestExtractTextNonMapOutput(t *testing.T) {
	text := extractText("Unknown", []any{"a", "b"})
	if text != `["a","b"]` {
		t.Fatalf("got %q", text)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 1 {
		t.Fatalf("empty text: got %d, want 1 (floor of 1)", got)
	}
	if got := estimateTokens("abc"); got != 1 {
		t.Fatalf("short text: got %d, want 1 (rounds up)", got)
	}
	if got := estimateTokens("12345678"); got != 2 {
		t.Fatalf("8 chars: got %d, want 2", got)
	}
}

func TestRefetchableTools(t *testing.T) {
	for _, tool := range []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch"} {
		if !refetchableTools[tool] {
			t.Errorf("%s should be refetchable", tool)
		}
	}
	for _, tool := range []string{"Edit", "Write", "Bash", "MultiEdit"} {
		if refetchableTools[tool] {
			t.Errorf("%s should not be refetchable", tool)
		}
	}
}
