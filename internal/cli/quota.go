// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/quota"
)

// quotaCommand fetches the current usage-limit state once and prints it.
func quotaCommand(args []string) error {
	var configPath string
	fs := flag.NewFlagSet("quota", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	state := quota.NewTracker(cfg.Quota).FetchQuota(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
