// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/channels"
	"github.com/parziva-1/zeroclaw/pkg/config"
	"github.com/parziva-1/zeroclaw/pkg/gateway"
	"github.com/parziva-1/zeroclaw/pkg/heartbeat"
	"github.com/parziva-1/zeroclaw/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zeroclaw %s (%s)\n", formatVersion(), runtime.Version())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "zeroclaw: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	logger.InfoCF("main", "Starting zeroclaw", map[string]interface{}{
		"version": formatVersion(),
		"config":  configPath,
	})

	chs, err := channels.FromConfig(cfg)
	if err != nil {
		return err
	}
	if len(chs) == 0 {
		return fmt.Errorf("no channels configured")
	}

	ack, err := channels.NewAckSelector(cfg.AckReaction)
	if err != nil {
		return err
	}

	broker := bus.NewMessageBus()
	defer broker.Close()
	manager := channels.NewManager(chs, broker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)
	defer manager.Stop()

	gw := gateway.New(cfg.Gateway, manager, broker, ack)
	for _, ch := range chs {
		if parser, ok := ch.(channels.WebhookParser); ok {
			gw.RegisterWebhook(parser)
		}
	}

	if cfg.Heartbeat.Schedule != "" {
		monitor, err := heartbeat.NewMonitor(cfg.Heartbeat.Schedule, manager)
		if err != nil {
			return err
		}
		go monitor.Run(ctx)
	}

	return gw.Run(ctx)
}
