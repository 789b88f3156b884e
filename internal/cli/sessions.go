// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"flag"
	"fmt"

	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/provider"
)

// sessionsCommand lists discoverable session sources, newest first.
func sessionsCommand(args []string) error {
	var configPath, providerID string
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	fs.StringVar(&providerID, "provider", "claude", "Session source provider (claude, store)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s sessions [flags] <dir>", appName)
	}

	if _, err := setup(configPath); err != nil {
		return err
	}
	defer logger.CloseGlobal()

	prov, ok := provider.Get(providerID)
	if !ok {
		return fmt.Errorf("%w: %q", provider.ErrUnknownProvider, providerID)
	}

	sessions, err := prov.DiscoverSessions(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to discover sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions found")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  %s  %d bytes  %s\n",
			s.Modified.Format("2006-01-02 15:04:05"), s.SessionID, s.SizeBytes, s.Path)
	}
	return nil
}
