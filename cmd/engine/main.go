/**
 * Extraction Engine - CLI Entry Point
 *
 * Subcommands:
 * - extract / batch / detect   one-shot extraction from the command line
 * - serve                      HTTP API (optionally with async job routes)
 * - mcp                        MCP tool server over stdio
 * - cache stats / cache clear  result cache maintenance
 *
 * Configuration comes from the environment (optionally seeded from .env) and
 * an optional JSON/YAML/TOML extraction config file.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
