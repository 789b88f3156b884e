// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/agentpulse/agentpulse/internal/graph"
	"github.com/agentpulse/agentpulse/internal/logger"
)

// graphCommand ingests one session source and prints its relationship
// graph as JSON.
func graphCommand(args []string) error {
	var configPath, providerID string
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	fs.StringVar(&providerID, "provider", "claude", "Session source provider (claude, store)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s graph [flags] <file>", appName)
	}

	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	stats, err := ingestFile(cfg, providerID, fs.Arg(0))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(graph.Build(stats))
}
