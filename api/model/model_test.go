package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelscript/reelscript/model"
)

func TestValidateCreateBatch(t *testing.T) {
	valid := func() CreateBatch {
		return CreateBatch{
			UserID:    "usr_1",
			ProjectID: "prj_1",
			Count:     4,
			Angles:    []string{"testimonial"},
			Durations: []int{15, 30},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateBatch)
		wantErr string
	}{
		{name: "valid", mutate: func(*CreateBatch) {}},
		{name: "premium tier", mutate: func(b *CreateBatch) { b.QualityTier = "premium" }},
		{name: "missing user", mutate: func(b *CreateBatch) { b.UserID = "" }, wantErr: "user_id"},
		{name: "zero count", mutate: func(b *CreateBatch) { b.Count = 0 }, wantErr: "count"},
		{name: "negative count", mutate: func(b *CreateBatch) { b.Count = -2 }, wantErr: "count"},
		{name: "no angles", mutate: func(b *CreateBatch) { b.Angles = nil }, wantErr: "angles"},
		{name: "blank angle", mutate: func(b *CreateBatch) { b.Angles = []string{""} }, wantErr: "angles"},
		{name: "negative duration", mutate: func(b *CreateBatch) { b.Durations = []int{-5} }, wantErr: "durations"},
		{name: "unknown tier", mutate: func(b *CreateBatch) { b.QualityTier = "gold" }, wantErr: "quality_tier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(&b)
			err := b.ValidateCreateBatch()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateBatchToBatchRequest(t *testing.T) {
	b := CreateBatch{UserID: "usr_1", ProjectID: "prj_1", Count: 2, Platform: "tiktok", QualityTier: "premium"}
	req := b.ToBatchRequest()
	assert.Equal(t, model.TierPremium, req.QualityTier)
	assert.Equal(t, "tiktok", req.Platform)
	assert.Equal(t, 2, req.Count)
}

func TestValidateRegenerateScript(t *testing.T) {
	r := RegenerateScript{UserID: "usr_1", Instruction: "make it punchier"}
	require.NoError(t, r.ValidateRegenerateScript())
	assert.Equal(t, model.RegenerationRequest{UserID: "usr_1", ScriptID: "scr_1", Instruction: "make it punchier"}, r.ToRegenerationRequest("scr_1"))

	r.Instruction = ""
	assert.Error(t, r.ValidateRegenerateScript())
}

func TestValidateCreateGrant(t *testing.T) {
	g := CreateGrant{Type: "pack", Amount: 50}
	require.NoError(t, g.ValidateCreateGrant())
	grant := g.ToCreditGrant("usr_1")
	assert.Nil(t, grant.ExpiresAt)
	assert.Equal(t, model.KindAdmin, grant.Kind)

	g = CreateGrant{Type: "subscription", Amount: 100}
	assert.Error(t, g.ValidateCreateGrant())

	g.ExpiresAt = "2025-05-01"
	assert.Error(t, g.ValidateCreateGrant())

	g.ExpiresAt = "2025-05-01T00:00:00+00:00"
	require.NoError(t, g.ValidateCreateGrant())
	grant = g.ToCreditGrant("usr_1")
	require.NotNil(t, grant.ExpiresAt)
	assert.True(t, grant.ExpiresAt.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))

	g = CreateGrant{Type: "bonus", Amount: 5}
	assert.Error(t, g.ValidateCreateGrant())
}

func TestValidateBillingEvent(t *testing.T) {
	end := time.Date(2025, 4, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		event   BillingEvent
		wantErr bool
	}{
		{"subscription with period end", BillingEvent{Type: "subscription.renewed", UserID: "usr_1", Credits: 100, PeriodEnd: &end, OrderID: "ord_1"}, false},
		{"subscription without period end", BillingEvent{Type: "subscription.renewed", UserID: "usr_1", Credits: 100, OrderID: "ord_1"}, true},
		{"order paid", BillingEvent{Type: "order.paid", UserID: "usr_1", Credits: 25, OrderID: "ord_2"}, false},
		{"zero credits", BillingEvent{Type: "order.paid", UserID: "usr_1", OrderID: "ord_2"}, true},
		{"missing order", BillingEvent{Type: "order.refunded", UserID: "usr_1", Credits: 25}, true},
		{"unknown type", BillingEvent{Type: "invoice.voided", UserID: "usr_1", Credits: 25, OrderID: "ord_3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.ValidateBillingEvent()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCreateDebit(t *testing.T) {
	d := CreateDebit{Amount: 3, Reference: "export_1"}
	require.NoError(t, d.ValidateCreateDebit())

	d.Amount = -1
	assert.Error(t, d.ValidateCreateDebit())

	d = CreateDebit{Amount: 3}
	assert.Error(t, d.ValidateCreateDebit())
}
