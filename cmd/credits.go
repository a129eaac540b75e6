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

	"github.com/reelscript/reelscript/model"
)

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Fatalf("Error printing result: %v\n", err)
	}
	fmt.Println(string(data))
}

// creditCommands groups operator tools for inspecting and adjusting balances.
func creditCommands(r *reelscriptInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "inspect and adjust credit balances",
	}
	cmd.AddCommand(creditBalanceCommand(r))
	cmd.AddCommand(creditGrantCommand(r))
	return cmd
}

func creditBalanceCommand(r *reelscriptInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [user_id]",
		Short: "show a user's credit buckets",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			balances, err := r.reelscript.GetBalances(context.Background(), args[0])
			if err != nil {
				log.Fatal(err)
			}
			printJSON(balances)
		},
	}
}

func creditGrantCommand(r *reelscriptInstance) *cobra.Command {
	var (
		creditType  string
		amount      int64
		expiresIn   time.Duration
		description string
	)

	cmd := &cobra.Command{
		Use:   "grant [user_id]",
		Short: "add (or with a negative amount remove) credits",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			grant := model.CreditGrant{
				UserID:      args[0],
				Type:        model.CreditType(creditType),
				Amount:      amount,
				Kind:        model.KindAdmin,
				Description: description,
			}
			if expiresIn > 0 {
				expiry := time.Now().UTC().Add(expiresIn)
				grant.ExpiresAt = &expiry
			}

			txns, err := r.reelscript.GrantCredits(context.Background(), grant)
			if err != nil {
				log.Fatal(err)
			}
			printJSON(txns)
		},
	}
	cmd.Flags().StringVar(&creditType, "type", string(model.CreditPack), "credit bucket: free, subscription or pack")
	cmd.Flags().Int64Var(&amount, "amount", 0, "credits to add")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expiry relative to now, e.g. 720h; zero never expires")
	cmd.Flags().StringVar(&description, "description", "manual adjustment", "ledger entry description")
	return cmd
}
