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

package reelscript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/reelscript/reelscript/database/mocks"
	"github.com/reelscript/reelscript/model"
)

func renewalTxns(amount int64) []model.CreditTransaction {
	return []model.CreditTransaction{{Type: model.CreditFree, Amount: amount, Kind: model.KindRenewal}}
}

func TestRenewFreeCredits(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())
	nextExpiry := testNow.AddDate(0, 1, 0)

	ds.On("ListExpiredFreeBalances", mock.Anything, testNow, 500).Return([]string{"usr_1", "usr_2"}, nil)
	ds.On("GrantCredits", mock.Anything, mock.MatchedBy(func(g model.CreditGrant) bool {
		return g.UserID == "usr_1" && g.ResetPrior && g.OnlyIfExpiredBy.Equal(testNow) &&
			g.Amount == 20 && g.ExpiresAt.Equal(nextExpiry) && g.Kind == model.KindRenewal
	}), testNow).Return(renewalTxns(20), nil)
	// usr_2 was renewed by a concurrent sweep after it was listed.
	ds.On("GrantCredits", mock.Anything, mock.MatchedBy(func(g model.CreditGrant) bool {
		return g.UserID == "usr_2"
	}), testNow).Return(nil, nil)

	ds.On("ListUsersWithoutFreeBalance", mock.Anything, 500).Return([]model.User{
		{UserID: "usr_3", Email: "new@example.com"},
		{UserID: "usr_4", Email: "Returning@Example.com"},
	}, nil)
	ds.On("IsDeletedEmail", mock.Anything, "new@example.com").Return(false, nil)
	ds.On("IsDeletedEmail", mock.Anything, "Returning@Example.com").Return(true, nil)
	ds.On("GrantCredits", mock.Anything, mock.MatchedBy(func(g model.CreditGrant) bool {
		return g.UserID == "usr_3" && g.OnlyIfNew && g.Amount == 20 && g.ExpiresAt != nil
	}), testNow).Return(renewalTxns(20), nil)
	ds.On("GrantCredits", mock.Anything, mock.MatchedBy(func(g model.CreditGrant) bool {
		return g.UserID == "usr_4" && g.OnlyIfNew && g.Amount == 0 && g.ExpiresAt == nil
	}), testNow).Return(renewalTxns(0), nil)

	stats, err := r.RenewFreeCredits(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, RenewalStats{Renewed: 1, Initialized: 1, Deleted: 1, Skipped: 1}, stats)
	ds.AssertExpectations(t)
}

func TestRenewFreeCreditsStopsWithoutProgress(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())
	r.cnf.Credits.RenewalBatchSize = 1
	defer func() { r.cnf.Credits.RenewalBatchSize = 500 }()

	ds.On("ListExpiredFreeBalances", mock.Anything, testNow, 1).Return([]string{"usr_1"}, nil)
	ds.On("GrantCredits", mock.Anything, mock.Anything, testNow).Return(nil, errors.New("deadlock detected"))
	ds.On("ListUsersWithoutFreeBalance", mock.Anything, 1).Return([]model.User{}, nil)

	stats, err := r.RenewFreeCredits(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	ds.AssertNumberOfCalls(t, "ListExpiredFreeBalances", 1)
}

func TestRenewFreeCreditsListFailure(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())

	ds.On("ListExpiredFreeBalances", mock.Anything, testNow, 500).Return(nil, errors.New("connection refused"))

	_, err := r.RenewFreeCredits(context.Background(), testNow)
	assert.Error(t, err)
}

func TestRenewalProcessorSkipsWhenLockHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(renewalLockKey, "another-worker"))

	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())
	p := NewRenewalProcessor(r, client)

	p.sweep(context.Background())
	ds.AssertNotCalled(t, "ListExpiredFreeBalances", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenewalProcessorStartStop(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())
	ds.On("ListExpiredFreeBalances", mock.Anything, testNow, 500).Return([]string{}, nil)
	ds.On("ListUsersWithoutFreeBalance", mock.Anything, 500).Return([]model.User{}, nil)

	p := NewRenewalProcessor(r, client)
	p.interval = time.Hour
	p.Start(context.Background())
	assert.True(t, p.IsRunning())

	// The first sweep runs before the ticker, so it has finished once Stop returns.
	p.Stop()
	assert.False(t, p.IsRunning())
	assert.False(t, mr.Exists(renewalLockKey))
	ds.AssertExpectations(t)
}

func TestRenewalProcessorRunOnceReleasesLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())
	ds.On("ListExpiredFreeBalances", mock.Anything, testNow, 500).Return([]string{}, nil)
	ds.On("ListUsersWithoutFreeBalance", mock.Anything, 500).Return([]model.User{}, nil)

	stats, err := NewRenewalProcessor(r, client).RunOnce(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, RenewalStats{}, stats)
	assert.False(t, mr.Exists(renewalLockKey))
	ds.AssertExpectations(t)
}

func TestRenewalProcessorRunOnceGivesUpOnHeldLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(renewalLockKey, "another-worker"))

	ds := new(mocks.MockDataSource)
	r := newTestReelScript(t, ds, &fakeLLM{}, newFakeQueue())

	_, err = NewRenewalProcessor(r, client).RunOnce(context.Background(), 200*time.Millisecond)
	assert.Error(t, err)
	ds.AssertNotCalled(t, "ListExpiredFreeBalances", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, mr.Exists(renewalLockKey))
}
