package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/context-raii/ctxhook/internal/debug"
	"github.com/context-raii/ctxhook/internal/interceptor"
)

// preToolUseCmd, postToolUseCmd, preCompactCmd and sessionStartCmd are the
// four hook entry points: each reads one JSON event from stdin and writes
// one JSON decision to stdout, exiting 0 unconditionally — an interceptor
// must never block or fail the host.

func preToolUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-tool-use",
		Short: "Run the pre-tool-use interceptor over a JSON event on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, func(a *app, ev *interceptor.Event) *interceptor.Decision {
				return a.interceptor.PreToolUse(cmd.Context(), ev)
			})
		},
	}
}

func postToolUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post-tool-use",
		Short: "Run the post-tool-use interceptor over a JSON event on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, func(a *app, ev *interceptor.Event) *interceptor.Decision {
				return a.interceptor.PostToolUse(cmd.Context(), ev)
			})
		},
	}
}

func preCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-compact",
		Short: "Run the pre-compact interceptor over a JSON event on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppNeutral(cmd)
			if a == nil {
				return writeDecision(&interceptor.Decision{})
			}
			defer a.Close()
			var ev interceptor.PreCompactEvent
			if err := decodeStdin(&ev); err != nil {
				debug.Logf("cmd", "pre-compact: decode stdin: %v", err)
				return writeDecision(&interceptor.Decision{})
			}
			decision := a.interceptor.PreCompact(cmd.Context(), &ev)
			_ = err
			return writeDecision(decision)
		},
	}
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-start",
		Short: "Run the session-start interceptor over a JSON event on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppNeutral(cmd)
			if a == nil {
				_ = err
				return writeDecision(&interceptor.Decision{})
			}
			defer a.Close()
			var ev interceptor.SessionStartEvent
			if err := decodeStdin(&ev); err != nil {
				debug.Logf("cmd", "session-start: decode stdin: %v", err)
				return writeDecision(&interceptor.Decision{})
			}
			decision := a.interceptor.SessionStart(cmd.Context(), &ev)
			return writeDecision(decision)
		},
	}
}

// runHook is the shared body of pre-tool-use and post-tool-use: open the
// store, decode stdin into an Event, delegate to fn, write the resulting
// decision. Any failure degrades to an empty, neutral decision rather than
// a non-zero exit.
func runHook(cmd *cobra.Command, fn func(*app, *interceptor.Event) *interceptor.Decision) error {
	a, err := openAppNeutral(cmd)
	if a == nil {
		_ = err
		return writeDecision(&interceptor.Decision{})
	}
	defer a.Close()

	var ev interceptor.Event
	if err := decodeStdin(&ev); err != nil {
		debug.Logf("cmd", "decode stdin: %v", err)
		return writeDecision(&interceptor.Decision{})
	}
	return writeDecision(fn(a, &ev))
}

// openAppNeutral opens the app, logging but not propagating a failure, so
// callers can fall back to a neutral decision.
func openAppNeutral(cmd *cobra.Command) (*app, error) {
	a, err := openApp(cmd.Context())
	if err != nil {
		debug.Logf("cmd", "open app: %v", err)
		return nil, err
	}
	return a, nil
}

func decodeStdin(v any) error {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return json.Unmarshal(b, v)
}

func writeDecision(d *interceptor.Decision) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(b))
	return nil
}
