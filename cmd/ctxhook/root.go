package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/context-raii/ctxhook/internal/compactionadvisor"
	"github.com/context-raii/ctxhook/internal/config"
	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/debug"
	"github.com/context-raii/ctxhook/internal/evictionengine"
	"github.com/context-raii/ctxhook/internal/interceptor"
	"github.com/context-raii/ctxhook/internal/referencegraph"
	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ctxhook",
		Short:         "Context-RAII: task-scoped context chunk tracking and eviction hints",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := config.Initialize()
			if err == nil {
				return nil
			}
			switch cmd.Name() {
			case "pre-tool-use", "post-tool-use", "pre-compact", "session-start":
				// Hook commands always exit 0: continue on defaults and env.
				debug.Logf("cmd", "%s: %v", cmd.Name(), err)
				return nil
			}
			return err
		},
	}

	cmd.AddCommand(
		preToolUseCmd(),
		postToolUseCmd(),
		preCompactCmd(),
		sessionStartCmd(),
		reportCmd(),
		complianceCmd(),
		initCmd(),
		doctorCmd(),
		watchCmd(),
		configCmd(),
	)
	return cmd
}

// app bundles every component wired to one open Store, mirroring the
// teacher's pattern of constructing a storage handle once per invocation
// and threading it through the command's dependencies.
type app struct {
	store       *store.Store
	registry    *taskregistry.Registry
	tagger      *contexttagger.Tagger
	graph       *referencegraph.Graph
	engine      *evictionengine.Engine
	advisor     *compactionadvisor.Advisor
	interceptor *interceptor.Interceptor
}

func openApp(ctx context.Context) (*app, error) {
	dir := config.StoreDir()
	debug.Init(dir)

	s, err := store.Open(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dir, err)
	}

	registry := taskregistry.New(s)
	tagger := contexttagger.New(s)
	graph := referencegraph.New(s)
	engine := evictionengine.New(tagger, registry, graph)
	advisor := compactionadvisor.New(s, tagger, registry, engine)
	ic := interceptor.New(s, registry, tagger, graph, engine, advisor)

	return &app{
		store: s, registry: registry, tagger: tagger, graph: graph,
		engine: engine, advisor: advisor, interceptor: ic,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		debug.Logf("cmd", "close store: %v", err)
	}
}
