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
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	redlock "github.com/reelscript/reelscript/internal/lock"
	"github.com/reelscript/reelscript/model"
)

const renewalLockKey = "reelscript:renewal-sweep"

// RenewalStats summarizes one sweep.
type RenewalStats struct {
	Renewed     int `json:"renewed"`
	Initialized int `json:"initialized"`
	Deleted     int `json:"deleted_accounts"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// RenewFreeCredits resets every expired free bucket to the monthly allotment
// and gives a free bucket to users who have none. Users whose email belongs
// to a deleted account get an empty bucket that never expires.
//
// Every grant is conditional on the locked row, so a second sweep at the same
// instant changes nothing.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - now time.Time: The sweep instant. Buckets expiring at or before it are renewed.
//
// Returns:
// - RenewalStats: Counts per outcome.
// - error: An error if listing candidates fails. Per-user failures are counted and logged.
func (r *ReelScript) RenewFreeCredits(ctx context.Context, now time.Time) (RenewalStats, error) {
	ctx, span := tracer.Start(ctx, "RenewFreeCredits")
	defer span.End()

	var stats RenewalStats
	pageSize := r.cnf.Credits.RenewalBatchSize
	nextExpiry := now.AddDate(0, 1, 0)

	for {
		users, err := r.datasource.ListExpiredFreeBalances(ctx, now, pageSize)
		if err != nil {
			span.RecordError(err)
			return stats, err
		}
		progress := 0
		for _, userID := range users {
			txns, err := r.GrantCredits(ctx, model.CreditGrant{
				UserID:          userID,
				Type:            model.CreditFree,
				Amount:          r.cnf.Credits.FreeMonthlyAllotment,
				ExpiresAt:       &nextExpiry,
				Kind:            model.KindRenewal,
				Description:     "monthly free credits",
				ResetPrior:      true,
				OnlyIfExpiredBy: &now,
			})
			switch {
			case err != nil:
				stats.Failed++
				logrus.WithError(err).WithField("user_id", userID).Error("free credit renewal failed")
			case len(txns) == 0:
				stats.Skipped++
			default:
				stats.Renewed++
				progress++
				renewalsApplied.WithLabelValues("renewed").Inc()
			}
		}
		if len(users) < pageSize || progress == 0 {
			break
		}
	}

	for {
		users, err := r.datasource.ListUsersWithoutFreeBalance(ctx, pageSize)
		if err != nil {
			span.RecordError(err)
			return stats, err
		}
		progress := 0
		for _, user := range users {
			ok, deleted, err := r.initializeFreeBalance(ctx, user, nextExpiry)
			switch {
			case err != nil:
				stats.Failed++
				logrus.WithError(err).WithField("user_id", user.UserID).Error("free credit initialization failed")
			case !ok:
				stats.Skipped++
			case deleted:
				stats.Deleted++
				progress++
				renewalsApplied.WithLabelValues("deleted_account").Inc()
			default:
				stats.Initialized++
				progress++
				renewalsApplied.WithLabelValues("initialized").Inc()
			}
		}
		if len(users) < pageSize || progress == 0 {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"renewed":     stats.Renewed,
		"initialized": stats.Initialized,
		"deleted":     stats.Deleted,
		"skipped":     stats.Skipped,
		"failed":      stats.Failed,
	}).Info("free credit sweep finished")
	return stats, nil
}

func (r *ReelScript) initializeFreeBalance(ctx context.Context, user model.User, expiry time.Time) (bool, bool, error) {
	deleted, err := r.datasource.IsDeletedEmail(ctx, user.Email)
	if err != nil {
		return false, false, err
	}

	grant := model.CreditGrant{
		UserID:      user.UserID,
		Type:        model.CreditFree,
		Amount:      r.cnf.Credits.FreeMonthlyAllotment,
		ExpiresAt:   &expiry,
		Kind:        model.KindRenewal,
		Description: "initial free credits",
		OnlyIfNew:   true,
	}
	if deleted {
		grant.Amount = 0
		grant.ExpiresAt = nil
		grant.Description = "free credits withheld for previously deleted account"
	}

	txns, err := r.GrantCredits(ctx, grant)
	if err != nil {
		return false, false, err
	}
	return len(txns) > 0, deleted, nil
}

// RenewalProcessor runs RenewFreeCredits on a fixed interval. When a redis
// client is set, only one processor across all workers sweeps at a time.
type RenewalProcessor struct {
	reelscript *ReelScript
	redis      redis.UniversalClient
	interval   time.Duration
	lockTTL    time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewRenewalProcessor(r *ReelScript, client redis.UniversalClient) *RenewalProcessor {
	return &RenewalProcessor{
		reelscript: r,
		redis:      client,
		interval:   time.Duration(r.cnf.Credits.RenewalIntervalSec) * time.Second,
		lockTTL:    2 * time.Minute,
		stopCh:     make(chan struct{}),
	}
}

func (p *RenewalProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.WithField("interval", p.interval).Info("Free credit renewal processor started")
}

func (p *RenewalProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Free credit renewal processor stopped")
}

func (p *RenewalProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RenewalProcessor) run(ctx context.Context) {
	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Free credit renewal processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Free credit renewal processor stop signal received")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// RunOnce runs a single sweep outside the loop. When a redis client is set it
// waits up to wait for a sweep running elsewhere to finish first.
func (p *RenewalProcessor) RunOnce(ctx context.Context, wait time.Duration) (RenewalStats, error) {
	var stats RenewalStats
	renew := func(ctx context.Context) error {
		var err error
		stats, err = p.reelscript.RenewFreeCredits(ctx, p.reelscript.now())
		return err
	}
	var err error
	if p.redis == nil {
		err = renew(ctx)
	} else {
		locker := redlock.NewLocker(p.redis, renewalLockKey, model.GenerateUUIDWithSuffix("sweep"))
		err = locker.WaitRun(ctx, p.lockTTL, wait, renew)
	}
	return stats, err
}

// sweep runs one renewal, guarded by the distributed lock when available.
// The lock is extended while the sweep runs.
func (p *RenewalProcessor) sweep(ctx context.Context) {
	renew := func(ctx context.Context) error {
		_, err := p.reelscript.RenewFreeCredits(ctx, p.reelscript.now())
		return err
	}

	var err error
	if p.redis != nil {
		locker := redlock.NewLocker(p.redis, renewalLockKey, model.GenerateUUIDWithSuffix("sweep"))
		err = locker.Run(ctx, p.lockTTL, renew)
	} else {
		err = renew(ctx)
	}

	if errors.Is(err, redlock.ErrLockHeld) {
		logrus.Debug("renewal sweep already running elsewhere")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("free credit renewal sweep failed")
	}
}
