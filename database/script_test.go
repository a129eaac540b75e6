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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

func scriptRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"script_id", "batch_id", "status", "angle", "duration", "hook", "storyboard", "cta_variants",
		"filming_checklist", "warnings", "score", "parent_script_id", "instruction", "error_message",
		"created_at", "updated_at",
	})
}

func TestCreateScript_Completed(t *testing.T) {
	ds, mock := newTestDataSource(t)
	now := time.Now()
	script := &model.Script{
		ScriptID: "scr_1",
		BatchID:  "bat_1",
		Status:   model.ScriptCompleted,
		Angle:    "demo",
		Duration: 15,
		Hook:     "Stop scrolling",
		Storyboard: []model.Beat{
			{TimeRange: "0-3s", Shot: "close up", Spoken: "Stop"},
		},
		CTAVariants:      []string{"Shop now"},
		FilmingChecklist: []string{"tripod"},
		Score:            ptr.Int(91),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO reelscript.scripts").
		WithArgs("scr_1", "bat_1", model.ScriptCompleted, "demo", 15, "Stop scrolling",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			int64(91), nil, "", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.CreateScript(context.Background(), script))
}

func TestCreateScript_MissingParent(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec("INSERT INTO reelscript.scripts").
		WillReturnError(&pq.Error{Code: "23503"})

	err := ds.CreateScript(context.Background(), &model.Script{
		ScriptID:       "scr_2",
		BatchID:        "bat_1",
		Status:         model.ScriptPending,
		ParentScriptID: ptr.String("scr_missing"),
	})
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestCreateChargedScript(t *testing.T) {
	ds, mock := newTestDataSource(t)
	now := time.Now()
	script := &model.Script{
		ScriptID:       "scr_v2",
		BatchID:        "bat_1",
		Status:         model.ScriptPending,
		ParentScriptID: ptr.String("scr_1"),
		Instruction:    "shorter hook",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(lockBalancesQuery).
		WithArgs("usr_1").
		WillReturnRows(balanceRows().AddRow("usr_1", "pack", 4, nil, now, now))
	mock.ExpectExec("UPDATE reelscript.credit_balances").
		WithArgs("usr_1", model.CreditPack, int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reelscript.credit_transactions").
		WithArgs(sqlmock.AnyArg(), "usr_1", model.CreditPack, int64(-1), int64(3), model.KindGeneration, "script generation", "scr_v2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reelscript.scripts").
		WithArgs("scr_v2", "bat_1", model.ScriptPending, "", 0, "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, "scr_1", "shorter hook", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	breakdown, err := ds.CreateChargedScript(context.Background(), script, "usr_1", 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.CreditBreakdown{Pack: 1}, breakdown)
}

func TestCreateChargedScript_MissingParentRollsBackDebit(t *testing.T) {
	ds, mock := newTestDataSource(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockBalancesQuery).
		WithArgs("usr_1").
		WillReturnRows(balanceRows().AddRow("usr_1", "pack", 4, nil, now, now))
	mock.ExpectExec("UPDATE reelscript.credit_balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reelscript.credit_transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reelscript.scripts").WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	_, err := ds.CreateChargedScript(context.Background(), &model.Script{
		ScriptID:       "scr_v2",
		BatchID:        "bat_1",
		Status:         model.ScriptPending,
		ParentScriptID: ptr.String("scr_missing"),
	}, "usr_1", 1, now)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestGetScript_Regeneration(t *testing.T) {
	ds, mock := newTestDataSource(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM reelscript.scripts WHERE script_id = \$1`).
		WithArgs("scr_2").
		WillReturnRows(scriptRows().AddRow(
			"scr_2", "bat_1", "pending", "demo", 30, nil, nil, nil, nil, nil,
			nil, "scr_1", "make it funnier", nil, now, now))

	script, err := ds.GetScript(context.Background(), "scr_2")
	require.NoError(t, err)
	require.NotNil(t, script.ParentScriptID)
	assert.Equal(t, "scr_1", *script.ParentScriptID)
	assert.Equal(t, "scr_1", script.RootID())
	assert.Equal(t, "make it funnier", script.Instruction)
	assert.Nil(t, script.Score)
	assert.False(t, script.HasStoryboard())
}

func TestGetScript_NotFound(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectQuery(`SELECT (.+) FROM reelscript.scripts`).
		WithArgs("scr_x").
		WillReturnRows(scriptRows())

	_, err := ds.GetScript(context.Background(), "scr_x")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestGetScriptVersions(t *testing.T) {
	ds, mock := newTestDataSource(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM reelscript.scripts WHERE script_id = \$1 OR parent_script_id = \$1`).
		WithArgs("scr_1").
		WillReturnRows(scriptRows().
			AddRow("scr_1", "bat_1", "completed", "demo", 15, "a", nil, "{}", "{}", "{}", 70, nil, nil, nil, now, now).
			AddRow("scr_2", "bat_1", "completed", "demo", 15, "b", nil, "{}", "{}", "{}", 80, "scr_1", "shorter", nil, now, now))

	versions, err := ds.GetScriptVersions(context.Background(), "scr_1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "shorter", versions[1].Instruction)
}

func TestSaveScriptResult_FinalRowIsConflict(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec("UPDATE reelscript.scripts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.SaveScriptResult(context.Background(), &model.Script{ScriptID: "scr_2", Status: model.ScriptCompleted})
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestUpdateScriptStatus(t *testing.T) {
	ds, mock := newTestDataSource(t)

	mock.ExpectExec("UPDATE reelscript.scripts").
		WithArgs("scr_2", model.ScriptGenerating, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.UpdateScriptStatus(context.Background(), "scr_2", model.ScriptGenerating))
}
