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
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/reelscript/reelscript"
	"github.com/reelscript/reelscript/config"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// laneQueues returns the queue weights each lane server consumes. The
// standard lane also drains outgoing webhooks.
func laneQueues(conf config.QueueConfig) (standard, elevated map[string]int) {
	standard = map[string]int{
		conf.StandardQueue: 3,
		conf.WebhookQueue:  1,
	}
	elevated = map[string]int{
		conf.ElevatedQueue: 1,
	}
	return standard, elevated
}

func initializeWorkerServer(conf *config.Configuration, concurrency int, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := reelscript.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          queues,
			RetryDelayFunc:  reelscript.RetryDelay(time.Duration(conf.Queue.RetryBaseDelaySec) * time.Second),
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logrus.WithError(err).WithFields(logrus.Fields{
					"type":    task.Type(),
					"retried": retried,
				}).Warn("task failed")
			}),
		},
	), nil
}

// startMonitoring serves asynqmon under /monitoring and Prometheus metrics
// under /metrics on the monitoring port.
func startMonitoring(conf *config.Configuration) {
	redisOption, err := reelscript.RedisClientOpt(conf)
	if err != nil {
		log.Printf("monitoring disabled: %v", err)
		return
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	mux := http.NewServeMux()
	mux.Handle(h.RootPath()+"/", h)
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		server := &http.Server{Addr: monitoringAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command. It runs one asynq server per
// lane, each with its own concurrency, plus the free credit renewal loop.
func workerCommands(r *reelscriptInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start reelscript workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf, "REELSCRIPT_WORKERS")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			standardQueues, elevatedQueues := laneQueues(conf.Queue)
			standard, err := initializeWorkerServer(conf, conf.Queue.StandardConcurrency, standardQueues)
			if err != nil {
				log.Fatal(err)
			}
			elevated, err := initializeWorkerServer(conf, conf.Queue.ElevatedConcurrency, elevatedQueues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			r.reelscript.RegisterHandlers(mux)

			startMonitoring(conf)

			renewal := reelscript.NewRenewalProcessor(r.reelscript, r.lockClient())
			renewal.Start(ctx)

			if err := standard.Start(mux); err != nil {
				log.Fatalf("could not start standard lane: %v", err)
			}
			if err := elevated.Start(mux); err != nil {
				standard.Shutdown()
				log.Fatalf("could not start elevated lane: %v", err)
			}
			logrus.WithFields(logrus.Fields{
				"standard_concurrency": conf.Queue.StandardConcurrency,
				"elevated_concurrency": conf.Queue.ElevatedConcurrency,
			}).Info("workers started")

			<-ctx.Done()
			logrus.Info("shutting down workers")
			renewal.Stop()
			standard.Shutdown()
			elevated.Shutdown()
			_ = r.queue.Close()
		},
	}

	return cmd
}
