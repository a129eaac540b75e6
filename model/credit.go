package model

import (
	"errors"
	"time"
)

type CreditType string

const (
	CreditFree         CreditType = "free"
	CreditSubscription CreditType = "subscription"
	CreditPack         CreditType = "pack"
)

// ConsumptionOrder is the fixed order buckets are drawn from.
var ConsumptionOrder = []CreditType{CreditFree, CreditSubscription, CreditPack}

func (t CreditType) Valid() bool {
	for _, ct := range ConsumptionOrder {
		if ct == t {
			return true
		}
	}
	return false
}

type TransactionKind string

const (
	KindRenewal    TransactionKind = "renewal"
	KindGeneration TransactionKind = "generation"
	KindPurchase   TransactionKind = "purchase"
	KindAdmin      TransactionKind = "admin"
	KindRefund     TransactionKind = "refund"
	KindExpire     TransactionKind = "expire"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

type CreditBalance struct {
	UserID    string     `json:"user_id"`
	Type      CreditType `json:"type"`
	Balance   int64      `json:"balance"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (b CreditBalance) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// EffectiveBalance is the spendable amount at now. Expiry is evaluated at read time.
func (b CreditBalance) EffectiveBalance(now time.Time) int64 {
	if b.IsExpired(now) || b.Balance < 0 {
		return 0
	}
	return b.Balance
}

// IsLive reports whether the bucket holds or may still receive spendable credits at now.
func (b CreditBalance) IsLive(now time.Time) bool {
	return !b.IsExpired(now)
}

type BalanceView struct {
	Type             CreditType `json:"type"`
	Balance          int64      `json:"balance"`
	ExpiresAt        *time.Time `json:"expires_at"`
	EffectiveBalance int64      `json:"effective_balance"`
}

func (b CreditBalance) View(now time.Time) BalanceView {
	return BalanceView{
		Type:             b.Type,
		Balance:          b.Balance,
		ExpiresAt:        b.ExpiresAt,
		EffectiveBalance: b.EffectiveBalance(now),
	}
}

type CreditTransaction struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          CreditType      `json:"type"`
	Amount        int64           `json:"amount"`
	BalanceAfter  int64           `json:"balance_after"`
	Kind          TransactionKind `json:"kind"`
	Description   string          `json:"description,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreditBreakdown is how a consumption was split across buckets.
type CreditBreakdown struct {
	Free         int64 `json:"free"`
	Subscription int64 `json:"subscription"`
	Pack         int64 `json:"pack"`
}

func (c CreditBreakdown) Total() int64 {
	return c.Free + c.Subscription + c.Pack
}

func (c *CreditBreakdown) add(t CreditType, amount int64) {
	switch t {
	case CreditFree:
		c.Free += amount
	case CreditSubscription:
		c.Subscription += amount
	case CreditPack:
		c.Pack += amount
	}
}

// CreditGrant adds credits to one bucket.
//
// ResetPrior zeroes the current balance with an expire entry first.
// OnlyIfExpiredBy and OnlyIfNew make the grant conditional on the state of
// the locked row, which keeps renewal sweeps idempotent under concurrency.
type CreditGrant struct {
	UserID          string          `json:"user_id"`
	Type            CreditType      `json:"type"`
	Amount          int64           `json:"amount"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	Kind            TransactionKind `json:"kind"`
	Description     string          `json:"description,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	ResetPrior      bool            `json:"-"`
	OnlyIfExpiredBy *time.Time      `json:"-"`
	OnlyIfNew       bool            `json:"-"`
}

// Draw is a single bucket debit produced by PlanConsumption.
type Draw struct {
	Type         CreditType
	Amount       int64
	BalanceAfter int64
}

// TotalEffective sums the spendable credits across balances.
func TotalEffective(balances []CreditBalance, now time.Time) int64 {
	var total int64
	for _, b := range balances {
		total += b.EffectiveBalance(now)
	}
	return total
}

// PlanConsumption splits amount across balances in ConsumptionOrder, each draw
// capped at the bucket's effective balance. It returns ErrInsufficientCredits
// without any draws when the effective total is short.
func PlanConsumption(balances []CreditBalance, amount int64, now time.Time) ([]Draw, CreditBreakdown, error) {
	var breakdown CreditBreakdown
	if TotalEffective(balances, now) < amount {
		return nil, breakdown, ErrInsufficientCredits
	}

	byType := make(map[CreditType]CreditBalance, len(balances))
	for _, b := range balances {
		byType[b.Type] = b
	}

	var draws []Draw
	needed := amount
	for _, t := range ConsumptionOrder {
		if needed == 0 {
			break
		}
		b, ok := byType[t]
		if !ok {
			continue
		}
		take := min(b.EffectiveBalance(now), needed)
		if take == 0 {
			continue
		}
		needed -= take
		breakdown.add(t, take)
		draws = append(draws, Draw{Type: t, Amount: take, BalanceAfter: b.Balance - take})
	}
	return draws, breakdown, nil
}

// SortBalances orders balances by ConsumptionOrder.
func SortBalances(balances []CreditBalance) []CreditBalance {
	out := make([]CreditBalance, 0, len(balances))
	for _, t := range ConsumptionOrder {
		for _, b := range balances {
			if b.Type == t {
				out = append(out, b)
			}
		}
	}
	return out
}

// BillingEventType is a normalized billing-provider event.
type BillingEventType string

const (
	BillingSubscriptionRenewed BillingEventType = "subscription.renewed"
	BillingOrderPaid           BillingEventType = "order.paid"
	BillingOrderRefunded       BillingEventType = "order.refunded"
)

type BillingEvent struct {
	Type      BillingEventType `json:"type"`
	UserID    string           `json:"user_id"`
	Credits   int64            `json:"credits"`
	PeriodEnd *time.Time       `json:"period_end,omitempty"`
	OrderID   string           `json:"order_id"`
}
