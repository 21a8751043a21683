package interceptor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const pendingTagFileName = "pending_tag.json"

// PendingTag is the single-slot document pre-tool writes so post-tool can
// attribute a result to the task that was active at pre-tool time — the
// active task may change between the two calls.
type PendingTag struct {
	InvocationID string         `json:"invocation_id"`
	ToolName     string         `json:"tool_name"`
	ToolInput    map[string]any `json:"tool_input"`
	SessionID    string         `json:"session_id"`
	ActiveTaskID string         `json:"active_task_id"`
}

// lockTimeout bounds how long a write waits for the file lock; interceptors
// run under an implicit tens-of-milliseconds budget, so a lock that is not
// free almost immediately is treated as unavailable rather than blocking
// the host.
const lockTimeout = 20 * time.Millisecond

// WritePendingTag overwrites the single pending-tag slot. The slot is
// overwritten by every pre-tool invocation; a failure to acquire the lock
// is swallowed — interceptors must never block or fail the host.
func WritePendingTag(storeDir string, tag *PendingTag) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	fl := flock.New(lockFilePath(storeDir))
	locked, err := fl.TryLockContext(ctx, 2*time.Millisecond)
	if err != nil || !locked {
		return
	}
	defer fl.Unlock()

	b, err := json.Marshal(tag)
	if err != nil {
		return
	}
	_ = os.WriteFile(tagFilePath(storeDir), b, 0o644)
}

// ReadPendingTag reads back the current pending tag. Any failure to
// acquire the lock, read, or parse the file is treated as "tag absent";
// callers must also verify the invocation id matches before trusting it.
func ReadPendingTag(storeDir string) (*PendingTag, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	fl := flock.New(lockFilePath(storeDir))
	locked, err := fl.TryLockContext(ctx, 2*time.Millisecond)
	if err != nil || !locked {
		return nil, false
	}
	defer fl.Unlock()

	b, err := os.ReadFile(tagFilePath(storeDir))
	if err != nil {
		return nil, false
	}
	var tag PendingTag
	if err := json.Unmarshal(b, &tag); err != nil {
		return nil, false
	}
	return &tag, true
}

func tagFilePath(storeDir string) string {
	return filepath.Join(storeDir, pendingTagFileName)
}

func lockFilePath(storeDir string) string {
	return filepath.Join(storeDir, pendingTagFileName+".lock")
}
