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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

// ScriptCost is the per-script price of a quality tier.
func (r *ReelScript) ScriptCost(tier model.QualityTier) int64 {
	if tier == model.TierPremium {
		return r.cnf.Credits.PremiumScriptCost
	}
	return r.cnf.Credits.StandardScriptCost
}

// ConsumeCredits debits amount from the user's buckets, free first, then
// subscription, then pack.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - userID string: The user being charged.
// - amount int64: Credits to draw. Must be positive.
// - correlationID string: Ties the ledger entries to the batch or script being paid for.
//
// Returns:
// - model.CreditBreakdown: How much came from each bucket.
// - error: INSUFFICIENT_CREDITS with nothing written when the effective total is short.
func (r *ReelScript) ConsumeCredits(ctx context.Context, userID string, amount int64, correlationID string) (model.CreditBreakdown, error) {
	ctx, span := tracer.Start(ctx, "ConsumeCredits", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int64("credits.amount", amount),
	))
	defer span.End()

	if userID == "" {
		return model.CreditBreakdown{}, apierror.NewAPIError(apierror.ErrInvalidInput, "user_id is required", nil)
	}
	if amount <= 0 {
		return model.CreditBreakdown{}, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be positive", nil)
	}

	breakdown, err := r.datasource.ConsumeCredits(ctx, userID, amount, correlationID, r.now())
	if err != nil {
		span.RecordError(err)
		return model.CreditBreakdown{}, err
	}

	observeConsumption(breakdown)
	return breakdown, nil
}

func observeConsumption(breakdown model.CreditBreakdown) {
	creditsConsumed.WithLabelValues(string(model.CreditFree)).Add(float64(breakdown.Free))
	creditsConsumed.WithLabelValues(string(model.CreditSubscription)).Add(float64(breakdown.Subscription))
	creditsConsumed.WithLabelValues(string(model.CreditPack)).Add(float64(breakdown.Pack))
}

// GrantCredits adds credits to one bucket and records the ledger entry in the
// same transaction. Subscription grants always replace what is left of the
// previous period, which is logged as an expire entry.
func (r *ReelScript) GrantCredits(ctx context.Context, grant model.CreditGrant) ([]model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "GrantCredits", trace.WithAttributes(
		attribute.String("user.id", grant.UserID),
		attribute.String("credits.type", string(grant.Type)),
	))
	defer span.End()

	if grant.UserID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user_id is required", nil)
	}
	if !grant.Type.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown credit type %q", grant.Type), nil)
	}
	if grant.Kind == "" {
		grant.Kind = model.KindAdmin
	}
	if grant.Type == model.CreditSubscription {
		grant.ResetPrior = true
	}

	txns, err := r.datasource.GrantCredits(ctx, grant, r.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id": grant.UserID,
		"type":    grant.Type,
		"amount":  grant.Amount,
		"entries": len(txns),
	}).Info("credits granted")
	return txns, nil
}

// GetBalances returns the user's buckets in consumption order with their
// effective balance at the current time.
func (r *ReelScript) GetBalances(ctx context.Context, userID string) ([]model.BalanceView, error) {
	balances, err := r.datasource.GetCreditBalances(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	views := []model.BalanceView{}
	for _, b := range model.SortBalances(balances) {
		views = append(views, b.View(now))
	}
	return views, nil
}

// HasEnoughCredits is a read-only check. It takes no locks, so a later
// ConsumeCredits may still fail.
func (r *ReelScript) HasEnoughCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	balances, err := r.datasource.GetCreditBalances(ctx, userID)
	if err != nil {
		return false, err
	}
	return model.TotalEffective(balances, r.now()) >= amount, nil
}

// RefundCorrelation gives back every generation draw charged under
// correlationID. Calling it again for the same correlation is a no-op.
func (r *ReelScript) RefundCorrelation(ctx context.Context, correlationID string) ([]model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "RefundCorrelation", trace.WithAttributes(attribute.String("correlation.id", correlationID)))
	defer span.End()

	txns, err := r.datasource.RefundCredits(ctx, correlationID, r.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(txns) > 0 {
		var total int64
		for _, t := range txns {
			total += t.Amount
		}
		creditsRefunded.Add(float64(total))
		logrus.WithFields(logrus.Fields{"correlation_id": correlationID, "credits": total}).Info("credits refunded")
	}
	return txns, nil
}

func (r *ReelScript) GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return r.datasource.GetCreditTransactions(ctx, userID, limit, offset)
}

// ApplyBillingEvent turns a normalized billing event into a grant.
//
// subscription.renewed replaces the subscription bucket and expires at the
// period end. order.paid adds non-expiring pack credits once per order id; a
// redelivered event returns no entries. order.refunded removes pack credits,
// never taking the bucket below zero.
func (r *ReelScript) ApplyBillingEvent(ctx context.Context, event model.BillingEvent) ([]model.CreditTransaction, error) {
	if event.Credits <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "credits must be positive", nil)
	}

	grant := model.CreditGrant{
		UserID:        event.UserID,
		CorrelationID: event.OrderID,
	}
	switch event.Type {
	case model.BillingSubscriptionRenewed:
		if event.PeriodEnd == nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "period_end is required for subscription renewals", nil)
		}
		grant.Type = model.CreditSubscription
		grant.Amount = event.Credits
		grant.ExpiresAt = event.PeriodEnd
		grant.Kind = model.KindPurchase
		grant.Description = "subscription renewal"
	case model.BillingOrderPaid:
		grant.Type = model.CreditPack
		grant.Amount = event.Credits
		grant.Kind = model.KindPurchase
		grant.Description = "credit pack purchase"
	case model.BillingOrderRefunded:
		grant.Type = model.CreditPack
		grant.Amount = -event.Credits
		grant.Kind = model.KindAdmin
		grant.Description = "credit pack refunded"
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported billing event %q", event.Type), nil)
	}

	if event.Type != model.BillingOrderPaid || event.OrderID == "" {
		return r.GrantCredits(ctx, grant)
	}

	logger := logrus.WithFields(logrus.Fields{"user_id": event.UserID, "order_id": event.OrderID})
	paid, err := r.datasource.HasLedgerEntry(ctx, event.OrderID, model.KindPurchase)
	if err != nil {
		return nil, err
	}
	if paid {
		logger.Info("order already credited, ignoring duplicate event")
		return []model.CreditTransaction{}, nil
	}
	txns, err := r.GrantCredits(ctx, grant)
	if apierror.Is(err, apierror.ErrConflict) {
		logger.Info("order credited concurrently, ignoring duplicate event")
		return []model.CreditTransaction{}, nil
	}
	return txns, err
}

// laneFor puts accounts with a live subscription on the elevated lane.
func (r *ReelScript) laneFor(ctx context.Context, userID string) model.Lane {
	balances, err := r.datasource.GetCreditBalances(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("could not resolve lane, using standard")
		return model.LaneStandard
	}
	now := r.now()
	for _, b := range balances {
		if b.Type == model.CreditSubscription && b.ExpiresAt != nil && b.IsLive(now) {
			return model.LaneElevated
		}
	}
	return model.LaneStandard
}
