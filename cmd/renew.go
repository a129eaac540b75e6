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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelscript/reelscript"
)

// renewCommands runs a single free credit renewal sweep, for deployments that
// schedule it externally instead of running the workers' loop. A sweep already
// running in the workers is waited for, up to --wait.
func renewCommands(r *reelscriptInstance) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "renew expired free credits once",
		Run: func(cmd *cobra.Command, args []string) {
			processor := reelscript.NewRenewalProcessor(r.reelscript, r.lockClient())
			stats, err := processor.RunOnce(context.Background(), wait)
			data, _ := json.MarshalIndent(stats, "", "    ")
			fmt.Println(string(data))
			if err != nil {
				log.Fatalf("renewal sweep failed: %v", err)
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for a sweep already running elsewhere")
	return cmd
}
