// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/normalize"
	"github.com/agentpulse/agentpulse/internal/provider"
	"github.com/agentpulse/agentpulse/internal/session"
)

// statsCommand ingests one session source end to end and prints the
// resulting stats snapshot as JSON.
func statsCommand(args []string) error {
	var configPath, providerID string
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	fs.StringVar(&providerID, "provider", "claude", "Session source provider (claude, store)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s stats [flags] <file>", appName)
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
	return enc.Encode(stats)
}

// ingestFile replays one complete session source through the normalize and
// aggregate path and returns the final snapshot.
func ingestFile(cfg *config.AppConfig, providerID, path string) (session.Stats, error) {
	prov, ok := provider.Get(providerID)
	if !ok {
		return session.Stats{}, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, providerID)
	}

	reader, err := prov.CreateReader(path)
	if err != nil {
		return session.Stats{}, fmt.Errorf("failed to open session source: %w", err)
	}
	defer reader.Flush()

	agg := session.New(cfg.Session, cfg.Pricing, session.NewNotifications())
	agg.Start(providerID, path)

	records, err := reader.ReadAll(context.Background())
	if err != nil {
		return session.Stats{}, fmt.Errorf("failed to read session source: %w", err)
	}
	for _, rec := range records {
		events, err := normalize.Normalize(providerID, rec)
		if err != nil {
			continue // malformed record, skip
		}
		for _, ev := range events {
			agg.ApplyEvent(ev)
		}
	}
	return agg.Stats(), nil
}
