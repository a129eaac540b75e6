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
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reelscript/reelscript"
	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/database"
	"github.com/reelscript/reelscript/internal/cache"
	"github.com/reelscript/reelscript/internal/llm"
	"github.com/reelscript/reelscript/internal/notification"
	redis_db "github.com/reelscript/reelscript/internal/redis-db"
)

// ReelScript represents the CLI application, encapsulating the root Cobra command.
type ReelScript struct {
	cmd *cobra.Command
}

// reelscriptInstance holds the runtime collaborators shared by every command.
// They are built once in preRun and injected into the API, workers and sweeps.
type reelscriptInstance struct {
	reelscript *reelscript.ReelScript
	queue      *reelscript.Queue
	redis      *redis_db.Redis // nil when Redis is unreachable at start up
	cnf        *config.Configuration
}

// lockClient returns the client sweeps coordinate through. A typed nil would
// not compare equal to nil inside the processor, so the interface is built here.
func (r *reelscriptInstance) lockClient() redis.UniversalClient {
	if r.redis == nil {
		return nil
	}
	return r.redis.Client()
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and wires the datasource, model client and
// queue before any command runs.
func preRun(app *reelscriptInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := setupReelScript(app, cnf); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.cnf = cnf
		return nil
	}
}

// setupReelScript connects to Postgres and Redis and builds the ReelScript
// instance. A Redis outage only disables the project cache; the queue client
// reconnects on its own.
func setupReelScript(app *reelscriptInstance, cfg *config.Configuration) error {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	queue := reelscript.NewQueue(cfg)
	newReelScript, err := reelscript.NewReelScript(db, llm.NewOpenAIClient(cfg.LLM), queue)
	if err != nil {
		return fmt.Errorf("error creating reelscript: %v", err)
	}

	redisClient, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		logrus.WithError(err).Warn("redis unavailable, project cache disabled")
	} else {
		newReelScript.WithCache(cache.NewRedisCache(redisClient.Client()))
		app.redis = redisClient
	}

	app.reelscript = newReelScript
	app.queue = queue
	return nil
}

// NewCLI creates the command-line interface for ReelScript.
func NewCLI() *ReelScript {
	var configFile string
	r := &reelscriptInstance{}

	var rootCmd = &cobra.Command{
		Use:   "reelscript",
		Short: "Batch ad-script generation with metered credits",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./reelscript.json", "Configuration file for reelscript")
	rootCmd.PersistentPreRunE = preRun(r, &configFile)

	rootCmd.AddCommand(serverCommands(r))
	rootCmd.AddCommand(workerCommands(r))
	rootCmd.AddCommand(migrateCommands(r))
	rootCmd.AddCommand(renewCommands(r))
	rootCmd.AddCommand(creditCommands(r))
	rootCmd.AddCommand(configCommands())

	return &ReelScript{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w ReelScript) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
