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
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/reelscript/reelscript/api/model"
)

func (a Api) GetBalances(c *gin.Context) {
	userID := c.Param("user_id")

	resp, err := a.reelscript.GetBalances(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CheckCredits answers whether the user can afford ?amount= credits right now.
func (a Api) CheckCredits(c *gin.Context) {
	userID := c.Param("user_id")
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive integer"})
		return
	}

	enough, err := a.reelscript.HasEnoughCredits(c.Request.Context(), userID, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "amount": amount, "has_enough": enough})
}

func (a Api) GetCreditTransactions(c *gin.Context) {
	userID := c.Param("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.reelscript.GetCreditTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GrantCredits(c *gin.Context) {
	userID := c.Param("user_id")

	var grant model2.CreateGrant
	if err := c.ShouldBindJSON(&grant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := grant.ValidateCreateGrant(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.reelscript.GrantCredits(c.Request.Context(), grant.ToCreditGrant(userID))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ConsumeCredits debits a user for work metered outside batch generation.
// The reference is recorded as the ledger correlation so it can be refunded.
func (a Api) ConsumeCredits(c *gin.Context) {
	userID := c.Param("user_id")

	var debit model2.CreateDebit
	if err := c.ShouldBindJSON(&debit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := debit.ValidateCreateDebit(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.reelscript.ConsumeCredits(c.Request.Context(), userID, debit.Amount, debit.Reference)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ApplyBillingEvent accepts billing events that an upstream integration has
// already normalized and verified.
func (a Api) ApplyBillingEvent(c *gin.Context) {
	var event model2.BillingEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := event.ValidateBillingEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.reelscript.ApplyBillingEvent(c.Request.Context(), event.ToBillingEvent())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
