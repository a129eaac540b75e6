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
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/reelscript/reelscript/model"
)

const dateFormat = "2006-01-02T15:04:05Z07:00"

type CreateBatch struct {
	UserID      string   `json:"user_id"`
	ProjectID   string   `json:"project_id"`
	Count       int      `json:"count"`
	Platform    string   `json:"platform"`
	Angles      []string `json:"angles"`
	Durations   []int    `json:"durations"`
	PersonaIDs  []string `json:"persona_ids"`
	QualityTier string   `json:"quality_tier"`
}

type RegenerateScript struct {
	UserID      string `json:"user_id"`
	Instruction string `json:"instruction"`
}

type CreateGrant struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	ExpiresAt   string `json:"expires_at"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

type CreateDebit struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type BillingEvent struct {
	Type      string     `json:"type"`
	UserID    string     `json:"user_id"`
	Credits   int64      `json:"credits"`
	PeriodEnd *time.Time `json:"period_end"`
	OrderID   string     `json:"order_id"`
}

func validateDateFormat(format, value string) error {
	_, err := time.Parse(format, value)
	if err != nil {
		return errors.New("please format the date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2025-04-22T15:28:03+00:00)")
	}
	return nil
}

func (b *CreateBatch) ValidateCreateBatch() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.UserID, validation.Required),
		validation.Field(&b.ProjectID, validation.Required),
		validation.Field(&b.Count, validation.Required, validation.Min(1)),
		validation.Field(&b.Angles, validation.Required, validation.Each(validation.Required)),
		validation.Field(&b.Durations, validation.Required, validation.Each(validation.Required, validation.Min(1))),
		validation.Field(&b.PersonaIDs, validation.Each(validation.Required)),
		validation.Field(&b.QualityTier, validation.In(string(model.TierStandard), string(model.TierPremium))),
	)
}

func (r *RegenerateScript) ValidateRegenerateScript() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Instruction, validation.Required, validation.Length(1, 2000)),
	)
}

func (g *CreateGrant) ValidateCreateGrant() error {
	return validation.ValidateStruct(g,
		validation.Field(&g.Type, validation.Required, validation.In(
			string(model.CreditFree), string(model.CreditSubscription), string(model.CreditPack))),
		validation.Field(&g.Amount, validation.Required),
		validation.Field(&g.ExpiresAt, validation.When(g.ExpiresAt != "", validation.By(func(value interface{}) error {
			dateStr, ok := value.(string)
			if !ok {
				return errors.New("invalid type for expiry date")
			}
			return validateDateFormat(dateFormat, dateStr)
		}))),
		validation.Field(&g.ExpiresAt, validation.When(g.Type == string(model.CreditSubscription),
			validation.Required.Error("subscription grants need an expiry date"))),
	)
}

func (d *CreateDebit) ValidateCreateDebit() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Amount, validation.Required, validation.Min(1)),
		validation.Field(&d.Reference, validation.Required),
	)
}

func (e *BillingEvent) ValidateBillingEvent() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Type, validation.Required, validation.In(
			string(model.BillingSubscriptionRenewed), string(model.BillingOrderPaid), string(model.BillingOrderRefunded))),
		validation.Field(&e.UserID, validation.Required),
		validation.Field(&e.Credits, validation.Required, validation.Min(1)),
		validation.Field(&e.OrderID, validation.Required),
		validation.Field(&e.PeriodEnd, validation.When(e.Type == string(model.BillingSubscriptionRenewed), validation.Required)),
	)
}

func (b *CreateBatch) ToBatchRequest() model.BatchRequest {
	return model.BatchRequest{
		UserID:      b.UserID,
		ProjectID:   b.ProjectID,
		Count:       b.Count,
		Platform:    b.Platform,
		Angles:      b.Angles,
		Durations:   b.Durations,
		PersonaIDs:  b.PersonaIDs,
		QualityTier: model.QualityTier(b.QualityTier),
	}
}

func (r *RegenerateScript) ToRegenerationRequest(scriptID string) model.RegenerationRequest {
	return model.RegenerationRequest{UserID: r.UserID, ScriptID: scriptID, Instruction: r.Instruction}
}

// ToCreditGrant assumes ValidateCreateGrant has passed.
func (g *CreateGrant) ToCreditGrant(userID string) model.CreditGrant {
	grant := model.CreditGrant{
		UserID:        userID,
		Type:          model.CreditType(g.Type),
		Amount:        g.Amount,
		Kind:          model.KindAdmin,
		Description:   g.Description,
		CorrelationID: g.Reference,
	}
	if g.ExpiresAt != "" {
		if expiry, err := time.Parse(dateFormat, g.ExpiresAt); err == nil {
			grant.ExpiresAt = &expiry
		}
	}
	return grant
}

func (e *BillingEvent) ToBillingEvent() model.BillingEvent {
	return model.BillingEvent{
		Type:      model.BillingEventType(e.Type),
		UserID:    e.UserID,
		Credits:   e.Credits,
		PeriodEnd: e.PeriodEnd,
		OrderID:   e.OrderID,
	}
}
