package main

import (
	"context"
	"flag"
	"io"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpctls "github.com/tailmon/tailmon/internal/grpc/tls"
)

var (
	address = flag.String("address", "localhost:9090", "gRPC server address")
	service = flag.String("service", "tailmon.Collector", "Health service name to check")
	watch   = flag.Bool("watch", false, "Stream status changes instead of a single check")
	timeout = flag.Duration("timeout", 60*time.Second, "Overall timeout")
	useTLS  = flag.Bool("tls", false, "Connect with TLS")
	caFile  = flag.String("ca", "", "CA certificate used to verify the server (system roots when empty)")
	sni     = flag.String("server-name", "", "Override the TLS server name")
)

func main() {
	flag.Parse()

	log.Printf("Connecting to gRPC server at %s", *address)

	creds := insecure.NewCredentials()
	if *useTLS {
		var err error
		creds, err = grpctls.LoadClientCredentials(*caFile, *sni)
		if err != nil {
			log.Fatalf("Failed to load TLS credentials: %v", err)
		}
	}

	conn, err := grpc.NewClient(*address, grpc.WithTransportCredentials(creds))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: *service})
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	log.Printf("service=%q status=%s", *service, resp.GetStatus())

	if !*watch {
		return
	}

	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: *service})
	if err != nil {
		log.Fatalf("Failed to watch: %v", err)
	}

	for {
		update, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				log.Printf("Watch ended: %v", err)
			}
			break
		}
		log.Printf("service=%q status=%s", *service, update.GetStatus())
	}

	log.Println("Health client finished")
}
