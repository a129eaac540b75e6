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
package mocks

import (
	"context"
	"time"

	"github.com/reelscript/reelscript/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Batch methods

func (m *MockDataSource) CreateChargedBatch(ctx context.Context, batch *model.Batch, now time.Time) (model.CreditBreakdown, error) {
	args := m.Called(ctx, batch, now)
	breakdown, _ := args.Get(0).(model.CreditBreakdown)
	return breakdown, args.Error(1)
}

func (m *MockDataSource) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	args := m.Called(ctx, id)
	if b, ok := args.Get(0).(*model.Batch); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus, errorMessage string) error {
	args := m.Called(ctx, id, status, errorMessage)
	return args.Error(0)
}

// Script methods

func (m *MockDataSource) CreateScript(ctx context.Context, script *model.Script) error {
	args := m.Called(ctx, script)
	return args.Error(0)
}

func (m *MockDataSource) CreateChargedScript(ctx context.Context, script *model.Script, userID string, amount int64, now time.Time) (model.CreditBreakdown, error) {
	args := m.Called(ctx, script, userID, amount, now)
	breakdown, _ := args.Get(0).(model.CreditBreakdown)
	return breakdown, args.Error(1)
}

func (m *MockDataSource) GetScript(ctx context.Context, id string) (*model.Script, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*model.Script); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetScriptVersions(ctx context.Context, rootID string) ([]model.Script, error) {
	args := m.Called(ctx, rootID)
	scripts, _ := args.Get(0).([]model.Script)
	return scripts, args.Error(1)
}

func (m *MockDataSource) UpdateScriptStatus(ctx context.Context, id string, status model.ScriptStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) SaveScriptResult(ctx context.Context, script *model.Script) error {
	args := m.Called(ctx, script)
	return args.Error(0)
}

// Credit methods

func (m *MockDataSource) GetCreditBalances(ctx context.Context, userID string) ([]model.CreditBalance, error) {
	args := m.Called(ctx, userID)
	balances, _ := args.Get(0).([]model.CreditBalance)
	return balances, args.Error(1)
}

func (m *MockDataSource) ConsumeCredits(ctx context.Context, userID string, amount int64, correlationID string, now time.Time) (model.CreditBreakdown, error) {
	args := m.Called(ctx, userID, amount, correlationID, now)
	breakdown, _ := args.Get(0).(model.CreditBreakdown)
	return breakdown, args.Error(1)
}

func (m *MockDataSource) GrantCredits(ctx context.Context, grant model.CreditGrant, now time.Time) ([]model.CreditTransaction, error) {
	args := m.Called(ctx, grant, now)
	txns, _ := args.Get(0).([]model.CreditTransaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) RefundCredits(ctx context.Context, correlationID string, now time.Time) ([]model.CreditTransaction, error) {
	args := m.Called(ctx, correlationID, now)
	txns, _ := args.Get(0).([]model.CreditTransaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	txns, _ := args.Get(0).([]model.CreditTransaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) HasLedgerEntry(ctx context.Context, correlationID string, kind model.TransactionKind) (bool, error) {
	args := m.Called(ctx, correlationID, kind)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ListExpiredFreeBalances(ctx context.Context, now time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, now, limit)
	users, _ := args.Get(0).([]string)
	return users, args.Error(1)
}

func (m *MockDataSource) ListUsersWithoutFreeBalance(ctx context.Context, limit int) ([]model.User, error) {
	args := m.Called(ctx, limit)
	users, _ := args.Get(0).([]model.User)
	return users, args.Error(1)
}

// Project and account methods

func (m *MockDataSource) GetProject(ctx context.Context, id string) (*model.Project, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*model.Project); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) IsDeletedEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}
