// Command ctxhook is the context-raii CLI: four hook entry points a host
// invokes around tool calls and compaction, plus operator subcommands for
// inspecting and initializing the store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
