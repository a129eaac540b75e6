/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"

	"github.com/reelscript/reelscript/api"
	"github.com/reelscript/reelscript/config"
	trace "github.com/reelscript/reelscript/internal/traces"
)

const posthogEndpoint = "https://us.i.posthog.com"

/*
serveTLS starts an HTTPS server with TLS enabled using CertMagic for automatic certificate management.
If no domain is specified, the server will default to running on localhost.
*/
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: certStoragePath()}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + conf.Port,
		Handler:           r,
		TLSConfig:         cfg.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTPS server: %w", err)
	}
	return nil
}

func certStoragePath() string {
	if path := os.Getenv("REELSCRIPT_CERT_STORAGE"); path != "" {
		return path
	}
	return "./certmagic"
}

// sendHeartbeat initializes and maintains a periodic heartbeat to PostHog
func sendHeartbeat(client posthog.Client, heartbeatID, service string) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			if err := client.Enqueue(posthog.Capture{
				DistinctId: heartbeatID,
				Event:      "server_heartbeat",
				Properties: map[string]interface{}{
					"service":   service,
					"timestamp": time.Now().UTC(),
				},
			}); err != nil {
				log.Printf("Failed to send heartbeat: %v", err)
			}
		}
	}()
}

func initializeRouter(r *reelscriptInstance) *gin.Engine {
	return api.NewAPI(r.reelscript).Router()
}

func initializeTracing(ctx context.Context, service string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializePostHog(service string) (posthog.Client, string) {
	key := os.Getenv("REELSCRIPT_POSTHOG_KEY")
	if key == "" {
		return nil, ""
	}
	client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: posthogEndpoint})
	if err != nil {
		log.Printf("PostHog disabled: %v", err)
		return nil, ""
	}
	heartbeatID := uuid.New().String()
	sendHeartbeat(client, heartbeatID, service)
	return client, heartbeatID
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// initializeObservability turns on tracing when enable_tracing is set and the
// PostHog heartbeat when enable_telemetry is set.
func initializeObservability(ctx context.Context, cfg *config.Configuration, service string) (posthog.Client, func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }
	if cfg.EnableTracing {
		var err error
		shutdown, err = initializeTracing(ctx, service)
		if err != nil {
			return nil, nil, err
		}
	}

	var phClient posthog.Client
	if cfg.EnableTelemetry {
		phClient, _ = initializePostHog(service)
	}
	return phClient, shutdown, nil
}

/*
serverCommands returns the Cobra command responsible for starting the HTTP API.
*/
func serverCommands(r *reelscriptInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the reelscript API server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			router := initializeRouter(r)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			phClient, shutdown, err := initializeObservability(ctx, cfg, "REELSCRIPT_API")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}
			defer r.queue.Close()

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
