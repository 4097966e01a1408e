package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/tailmon/tailmon/internal/agent"
)

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	server := fs.String("server", config.Collector.Url, "Collector URL (e.g., http://collector:8080)")
	hostname := fs.String("hostname", config.Monitoring.Hostname, "Hostname to register (defaults to the OS hostname)")
	address := fs.String("ip", "", "Tailscale address (auto-detected when empty)")
	iface := fs.String("interface", config.Monitoring.Interface, "Tailscale interface name")
	credentialsFile := fs.String("credentials", config.CredentialsFile, "Where to store the issued API key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *server == "" {
		return fmt.Errorf("--server is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	id, err := resolveIdentity(ctx, agent.NewSampler(*iface), *hostname, *address)
	if err != nil {
		return err
	}

	client := agent.NewClient(*server, config.Collector.Timeout)
	retrier := agent.NewRetrier(agent.RetryConfig{Attempts: config.Collector.RetryAttempts})
	creds, err := agent.NewBootstrapper(client, retrier, *credentialsFile, *server).Ensure(ctx, id)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	fmt.Println("Registration successful!")
	fmt.Printf("  Agent ID:    %s\n", creds.AgentID)
	fmt.Printf("  Hostname:    %s\n", creds.Hostname)
	fmt.Printf("  Tailscale:   %s\n", creds.TailscaleIP)
	fmt.Printf("  Credentials: %s\n", *credentialsFile)
	return nil
}

// resolveIdentity fills in whatever the caller did not provide from the host.
func resolveIdentity(ctx context.Context, sampler *agent.Sampler, hostname, address string) (agent.Identity, error) {
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return agent.Identity{}, fmt.Errorf("failed to read hostname: %w", err)
		}
		hostname = h
	}
	if address == "" {
		_, detected, err := sampler.DetectInterface(ctx)
		if err != nil {
			return agent.Identity{}, err
		}
		if detected == "" {
			return agent.Identity{}, fmt.Errorf("%w: interface has no tailscale address", agent.ErrInterfaceNotFound)
		}
		address = detected
	}
	return agent.Identity{
		Hostname:    hostname,
		TailscaleIP: address,
		OSType:      runtime.GOOS,
	}, nil
}
