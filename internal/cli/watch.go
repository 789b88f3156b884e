// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentpulse/agentpulse/internal/engine"
	"github.com/agentpulse/agentpulse/internal/logger"
)

type watchOptions struct {
	configPath string
	providerID string
}

// watchCommand tails the newest session under a directory and prints
// notifications as they arrive, until interrupted.
func watchCommand(args []string) error {
	opts := &watchOptions{}
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.providerID, "provider", "claude", "Session source provider (claude, store)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s watch [flags] <dir>", appName)
	}
	dir := fs.Arg(0)

	cfg, err := setup(opts.configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	eng, err := engine.New(cfg, opts.providerID)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx, dir); err != nil {
		return err
	}

	notif := eng.Notifications()
	sessionStart := notif.SessionStart.Subscribe()
	defer sessionStart.Cancel()
	sessionEnd := notif.SessionEnd.Subscribe()
	defer sessionEnd.Cancel()
	// Per-event topics get the configured buffer so a slow terminal does
	// not drop bursts.
	tokens := notif.TokenUsage.SubscribeBuffered(cfg.Watch.EventBufferSize)
	defer tokens.Cancel()
	tools := notif.ToolCall.SubscribeBuffered(cfg.Watch.EventBufferSize)
	defer tools.Cancel()
	timeline := notif.TimelineEvent.SubscribeBuffered(cfg.Watch.EventBufferSize)
	defer timeline.Cancel()
	latency := notif.LatencyUpdate.SubscribeBuffered(cfg.Watch.EventBufferSize)
	defer latency.Cancel()
	discovery := notif.DiscoveryModeChange.Subscribe()
	defer discovery.Cancel()
	quotaUpdates := eng.Quota().Updates().Subscribe()
	defer quotaUpdates.Cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("watching %s (provider %s), ctrl-c to stop\n", dir, opts.providerID)
	for {
		select {
		case <-sigCh:
			fmt.Println("\nshutting down")
			return nil
		case path := <-sessionStart.C():
			fmt.Printf("session started: %s\n", path)
		case <-sessionEnd.C():
			fmt.Println("session ended")
		case u := <-tokens.C():
			fmt.Printf("tokens: in=%d out=%d total=%d model=%s cost=$%.4f\n",
				u.Usage.InputTokens, u.Usage.OutputTokens, u.Usage.Total(), u.Model, u.CostUSD)
		case call := <-tools.C():
			fmt.Printf("tool: %s %s\n", call.ToolName, call.Input)
		case entry := <-timeline.C():
			fmt.Printf("[%s] %s\n", entry.Kind, entry.Label)
		case l := <-latency.C():
			fmt.Printf("latency: avg first-token %.0fms over %d cycles\n",
				l.AvgFirstTokenMs, l.Count)
		case on := <-discovery.C():
			if on {
				fmt.Println("waiting for a session to appear")
			}
		case q := <-quotaUpdates.C():
			if q.FiveHour != nil {
				fmt.Printf("quota: 5h window at %.1f%%\n", q.FiveHour.Utilization)
			}
		}
	}
}
