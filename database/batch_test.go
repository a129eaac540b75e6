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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

func testBatch() *model.Batch {
	now := time.Now()
	return &model.Batch{
		BatchID:        "bat_1",
		ProjectID:      "prj_1",
		UserID:         "usr_1",
		RequestedCount: 3,
		Platform:       "tiktok",
		Angles:         []string{"pain point", "before/after"},
		Durations:      []int{15, 30},
		QualityTier:    model.TierStandard,
		Status:         model.BatchPending,
		CreditsCharged: 3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func expectBatchDebit(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectBegin()
	mock.ExpectQuery(lockBalancesQuery).
		WithArgs("usr_1").
		WillReturnRows(balanceRows().AddRow("usr_1", "free", 5, now.Add(time.Hour), now, now))
	mock.ExpectExec("UPDATE reelscript.credit_balances").
		WithArgs("usr_1", model.CreditFree, int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reelscript.credit_transactions").
		WithArgs(sqlmock.AnyArg(), "usr_1", model.CreditFree, int64(-3), int64(2), model.KindGeneration, "script generation", "bat_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestCreateChargedBatch(t *testing.T) {
	ds, mock := newTestDataSource(t)
	batch := testBatch()
	now := batch.CreatedAt

	expectBatchDebit(mock, now)
	mock.ExpectExec("INSERT INTO reelscript.batches").
		WithArgs(batch.BatchID, batch.ProjectID, batch.UserID, batch.RequestedCount, batch.Platform,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), batch.QualityTier, batch.Status,
			batch.CreditsCharged, batch.CreatedAt, batch.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	breakdown, err := ds.CreateChargedBatch(context.Background(), batch, now)
	require.NoError(t, err)
	assert.Equal(t, model.CreditBreakdown{Free: 3}, breakdown)
}

func TestCreateChargedBatch_InsertFailureRollsBackDebit(t *testing.T) {
	ds, mock := newTestDataSource(t)
	batch := testBatch()

	expectBatchDebit(mock, batch.CreatedAt)
	mock.ExpectExec("INSERT INTO reelscript.batches").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := ds.CreateChargedBatch(context.Background(), batch, batch.CreatedAt)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestCreateChargedBatch_InsufficientWritesNoBatch(t *testing.T) {
	ds, mock := newTestDataSource(t)
	batch := testBatch()
	now := batch.CreatedAt

	mock.ExpectBegin()
	mock.ExpectQuery(lockBalancesQuery).
		WithArgs("usr_1").
		WillReturnRows(balanceRows().AddRow("usr_1", "pack", 1, nil, now, now))
	mock.ExpectRollback()

	_, err := ds.CreateChargedBatch(context.Background(), batch, now)
	assert.Equal(t, apierror.ErrInsufficientCredits, apierror.CodeOf(err))
}

func TestGetBatch_WithRootScripts(t *testing.T) {
	ds, mock := newTestDataSource(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM reelscript.batches WHERE batch_id = \$1`).
		WithArgs("bat_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"batch_id", "project_id", "user_id", "requested_count", "platform", "angles", "durations",
			"persona_ids", "quality_tier", "status", "error_message", "credits_charged", "created_at", "updated_at",
		}).AddRow("bat_1", "prj_1", "usr_1", 2, "tiktok", "{\"pain point\",demo}", "{15,30}", "{}",
			"standard", "processing", nil, 2, now, now))

	mock.ExpectQuery(`SELECT (.+) FROM reelscript.scripts WHERE batch_id = \$1 AND parent_script_id IS NULL`).
		WithArgs("bat_1").
		WillReturnRows(scriptRows().AddRow(
			"scr_1", "bat_1", "completed", "demo", 15, "Stop scrolling",
			[]byte(`[{"time_range":"0-3s","shot":"close up","on_screen_text":"wait","spoken":"Stop","broll":""}]`),
			"{Shop now}", "{tripod}", "{}", 88, nil, nil, nil, now, now))

	batch, err := ds.GetBatch(context.Background(), "bat_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pain point", "demo"}, batch.Angles)
	assert.Equal(t, []int{15, 30}, batch.Durations)
	assert.Equal(t, model.BatchProcessing, batch.Status)
	assert.Empty(t, batch.ErrorMessage)
	require.Len(t, batch.Scripts, 1)
	assert.Equal(t, 1, batch.Remaining())

	script := batch.Scripts[0]
	require.NotNil(t, script.Score)
	assert.Equal(t, 88, *script.Score)
	assert.Nil(t, script.ParentScriptID)
	require.Len(t, script.Storyboard, 1)
	assert.Equal(t, "close up", script.Storyboard[0].Shot)
}

func TestGetBatch_NotFound(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectQuery(`SELECT (.+) FROM reelscript.batches`).
		WithArgs("bat_missing").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id"}))

	_, err := ds.GetBatch(context.Background(), "bat_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestUpdateBatchStatus(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec("UPDATE reelscript.batches").
		WithArgs("bat_1", model.BatchFailed, "llm unavailable", sqlmock.AnyArg(),
			pq.Array([]string{"pending", "processing", "failed"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.UpdateBatchStatus(context.Background(), "bat_1", model.BatchFailed, "llm unavailable"))
}

func TestUpdateBatchStatus_CompletesOnlyFromProcessing(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec(`UPDATE reelscript.batches (.+) status = ANY\(\$5\)`).
		WithArgs("bat_1", model.BatchCompleted, "", sqlmock.AnyArg(), pq.Array([]string{"processing"})).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.UpdateBatchStatus(context.Background(), "bat_1", model.BatchCompleted, "")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestUpdateBatchStatus_CompletedIsFinal(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec("UPDATE reelscript.batches").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.UpdateBatchStatus(context.Background(), "bat_1", model.BatchFailed, "")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestUpdateBatchStatus_DatabaseError(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec("UPDATE reelscript.batches").
		WillReturnError(errors.New("connection reset"))

	err := ds.UpdateBatchStatus(context.Background(), "bat_1", model.BatchProcessing, "")
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
}
