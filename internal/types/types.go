// Package types holds the data-model structs shared across context-raii's
// packages: tasks, context chunks, and the edges between them.
package types

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskAbandoned  TaskStatus = "abandoned"
)

// IsActive reports whether a task is still pending or in_progress.
func (s TaskStatus) IsActive() bool {
	return s == TaskPending || s == TaskInProgress
}

// IsTerminal reports whether a task has reached completed or abandoned.
// Abandoned is equivalent to completed for every eviction rule.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskAbandoned
}

// ChunkStatus is the lifecycle state of a ContextChunk.
type ChunkStatus string

const (
	ChunkFresh      ChunkStatus = "fresh"
	ChunkIntegrated ChunkStatus = "integrated"
	ChunkEvictable  ChunkStatus = "evictable"
)

// ReferenceType enumerates the semantic reasons a task can cite a chunk.
type ReferenceType string

const (
	CitedInReasoning ReferenceType = "cited_in_reasoning"
	BuildsOn         ReferenceType = "builds_on"
	Supersedes       ReferenceType = "supersedes"
	RequiredBy       ReferenceType = "required_by"
)

// ValidReferenceTypes is the closed set accepted by ReferenceGraph.AddEdge.
var ValidReferenceTypes = map[ReferenceType]bool{
	CitedInReasoning: true,
	BuildsOn:         true,
	Supersedes:       true,
	RequiredBy:       true,
}

// Task represents one unit of user-visible intent.
type Task struct {
	ID          string
	Subject     string
	Status      TaskStatus
	ParentID    string // empty string means no parent
	CreatedAt   time.Time
	CompletedAt *time.Time
	Metadata    map[string]any
}

// ContextChunk represents the retained result of one tool invocation.
type ContextChunk struct {
	ID              string
	ToolName        string
	ToolInput       map[string]any
	IsRefetchable   bool
	Status          ChunkStatus
	SizeTokens      int
	CreatedAt       time.Time
	StatusChangedAt time.Time
	SessionID       string
	ContentHash     string
	TaskIDs         []string // owning tasks, union of task_chunks edges
}

// ReferenceEdge is a typed directed edge from a task to a chunk.
type ReferenceEdge struct {
	TaskID        string
	ChunkID       string
	ReferenceType ReferenceType
	CreatedAt     time.Time
}

// DependencyEdge asserts that DependentTaskID's work still needs
// DependencyTaskID's context.
type DependencyEdge struct {
	DependentTaskID  string
	DependencyTaskID string
	CreatedAt        time.Time
}

// CompactionEvent is the per-compaction telemetry row.
type CompactionEvent struct {
	ID                   int64
	SessionID            string
	CompactedAt          time.Time
	HintsEvictableCount  int
	HintsPreservedCount  int
	HintsEvictableTokens int
	ConfirmedEvicted     int
	FalseNegatives       int
	ComplianceRate       float64
}

// CanonicalJSON renders v with stable key ordering so that two
// semantically-equal maps serialize byte-identically. Used for the chunk
// tool_input column and the eviction engine's supersession signature.
func CanonicalJSON(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return "", err
	}
	// json.Encoder.Encode appends a trailing newline; trim it so callers get
	// a stable, directly-comparable string.
	s := buf.String()
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	return s, nil
}

// normalize walks a decoded JSON-shaped value (maps/slices/scalars) and
// returns a value whose map keys will marshal in sorted order. Go's
// encoding/json already sorts map[string]any keys; this recursively copies
// nested maps and slices and passes every other value through unchanged,
// without checking its type.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			nv, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return val, nil
	}
}
