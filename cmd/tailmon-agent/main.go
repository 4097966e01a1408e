package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tailmon/tailmon/internal/agent"
)

var AppVersion string

func main() {
	InitConfig()

	if len(os.Args) > 1 && os.Args[1] == "register" {
		if err := runRegister(os.Args[2:]); err != nil {
			slog.Error("Register failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("Tailmon Agent", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	sampler := agent.NewSampler(config.Monitoring.Interface)
	id, err := resolveIdentity(ctx, sampler, config.Monitoring.Hostname, "")
	if err != nil {
		slog.Error("Failed to detect Tailscale interface", "error", err)
		os.Exit(1)
	}

	client := agent.NewClient(config.Collector.Url, config.Collector.Timeout)
	retrier := agent.NewRetrier(agent.RetryConfig{Attempts: config.Collector.RetryAttempts})

	if config.Collector.ApiKey != "" {
		client.SetAPIKey(config.Collector.ApiKey)
	} else {
		bootstrapper := agent.NewBootstrapper(client, retrier, config.CredentialsFile, config.Collector.Url)
		creds, err := ensureRegistered(ctx, bootstrapper, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("Failed to register with collector", "error", err)
			os.Exit(1)
		}
		client.SetAPIKey(creds.APIKey)
	}

	runner := agent.NewRunner(sampler, client, retrier, id.Hostname, config.Monitoring.Interval)
	if err := runner.Run(ctx); err != nil {
		slog.Error("Sampling loop failed", "error", err)
	}

	stats := runner.Stats()
	slog.Info("Shutdown complete",
		"cycles", stats.Cycles,
		"submitted", stats.Submitted,
		"dropped", stats.Dropped)
}

// ensureRegistered keeps trying while the collector is unreachable. Only a missing local key
// for an already registered host is fatal.
func ensureRegistered(ctx context.Context, b *agent.Bootstrapper, id agent.Identity) (agent.Credentials, error) {
	for {
		creds, err := b.Ensure(ctx, id)
		if err == nil {
			return creds, nil
		}
		if errors.Is(err, agent.ErrKeyNotStored) || ctx.Err() != nil {
			return agent.Credentials{}, err
		}

		var status *agent.StatusError
		if errors.As(err, &status) && !status.Temporary() {
			return agent.Credentials{}, err
		}

		slog.Warn("Registration failed, retrying", "retry_in", config.Monitoring.Interval, "error", err)
		select {
		case <-ctx.Done():
			return agent.Credentials{}, ctx.Err()
		case <-time.After(config.Monitoring.Interval):
		}
	}
}
