// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the agentpulse command-line surface.
package cli

import (
	"fmt"
	"os"

	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/normalize"
	"github.com/agentpulse/agentpulse/internal/provider"
	"github.com/agentpulse/agentpulse/internal/provider/jsonl"
	"github.com/agentpulse/agentpulse/internal/provider/sqlitestore"
)

const (
	appName    = "agentpulse"
	appVersion = "0.1.0"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "watch":
		return watchCommand(args)
	case "sessions":
		return sessionsCommand(args)
	case "stats":
		return statsCommand(args)
	case "quota":
		return quotaCommand(args)
	case "graph":
		return graphCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

// setup loads configuration, initializes logging and registers the built-in
// providers and normalizers. Every subcommand goes through here.
func setup(configPath string) (*config.AppConfig, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Initialize(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	provider.Register(jsonl.New())
	provider.Register(sqlitestore.New())
	normalize.RegisterAll()
	return cfg, nil
}

func printUsage() error {
	fmt.Printf(`%s - AI coding-agent session analytics

Usage:
  %s <command> [arguments]

Commands:
  watch <dir>     Tail the newest session in a directory and stream analytics
  sessions <dir>  List discoverable sessions, newest first
  stats <file>    Ingest one session source and print a stats snapshot
  quota           Fetch current usage-limit state
  graph <file>    Ingest one session source and print its relationship graph
  version         Print version information
  help            Show this help message

Examples:
  %s watch ~/.claude/projects/myproject
  %s sessions ~/.claude/projects/myproject
  %s stats ~/.claude/projects/myproject/2f1c...88a.jsonl
  %s stats --provider store ./sessions.db
  %s quota
  %s graph session.jsonl > graph.json

`, appName, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
