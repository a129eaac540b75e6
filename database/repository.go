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

package database

import (
	"context"
	"time"

	"github.com/reelscript/reelscript/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	batch   // Batch rows and their status transitions
	script  // Script rows and regeneration lineage
	credit  // Credit balances and the append-only credit ledger
	project // Read-only product briefs
	account // Read-only user and deleted-account records
}

type batch interface {
	CreateChargedBatch(ctx context.Context, batch *model.Batch, now time.Time) (model.CreditBreakdown, error) // Debit and insert share one transaction
	GetBatch(ctx context.Context, id string) (*model.Batch, error) // Includes root scripts
	UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus, errorMessage string) error
}

type script interface {
	CreateScript(ctx context.Context, script *model.Script) error
	CreateChargedScript(ctx context.Context, script *model.Script, userID string, amount int64, now time.Time) (model.CreditBreakdown, error)
	GetScript(ctx context.Context, id string) (*model.Script, error)
	GetScriptVersions(ctx context.Context, rootID string) ([]model.Script, error)
	UpdateScriptStatus(ctx context.Context, id string, status model.ScriptStatus) error
	SaveScriptResult(ctx context.Context, script *model.Script) error // Final write of a pending or generating row
}

type credit interface {
	GetCreditBalances(ctx context.Context, userID string) ([]model.CreditBalance, error)
	ConsumeCredits(ctx context.Context, userID string, amount int64, correlationID string, now time.Time) (model.CreditBreakdown, error)
	GrantCredits(ctx context.Context, grant model.CreditGrant, now time.Time) ([]model.CreditTransaction, error)
	RefundCredits(ctx context.Context, correlationID string, now time.Time) ([]model.CreditTransaction, error)
	GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error)
	HasLedgerEntry(ctx context.Context, correlationID string, kind model.TransactionKind) (bool, error)
	ListExpiredFreeBalances(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListUsersWithoutFreeBalance(ctx context.Context, limit int) ([]model.User, error)
}

type project interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
}

type account interface {
	IsDeletedEmail(ctx context.Context, email string) (bool, error)
}
