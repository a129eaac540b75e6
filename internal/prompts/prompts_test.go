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

package prompts

import (
	"errors"
	"testing"

	"github.com/reelscript/reelscript/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject() *model.Project {
	return &model.Project{
		ProjectID:       "prj_1",
		ProductName:     "LashLock Mascara",
		Description:     "Smudge-proof tubing mascara",
		Benefits:        []string{"no smudging", "lasts 12 hours"},
		ForbiddenClaims: []string{"cures eyelash loss"},
		Personas: []model.Persona{
			{PersonaID: "per_1", Name: "Busy mom", Description: "No time for touch-ups", PainPoints: []string{"raccoon eyes"}},
			{PersonaID: "per_2", Name: "Gym goer", Description: "Works out after work"},
		},
	}
}

func TestLoadEmbeddedStyles(t *testing.T) {
	b, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"facebook", "instagram_reels", "tiktok", "youtube_shorts"}, b.Platforms())
	assert.True(t, b.HasPlatform("tiktok"))
	assert.False(t, b.HasPlatform("myspace"))
	assert.Equal(t, "TikTok", b.Style("myspace").Name)
	assert.Equal(t, 90, b.MaxDuration())
}

func TestParseRejectsBadStyles(t *testing.T) {
	_, err := parse([]byte("platforms: {}"))
	assert.Error(t, err)

	_, err = parse([]byte("default_platform: x\nplatforms:\n  tiktok: {name: TikTok}\nbeat_guidelines: [{max_duration: 15, min_beats: 3, max_beats: 4}]"))
	assert.Error(t, err)
}

func TestBeatRange(t *testing.T) {
	b := MustLoad()
	tests := []struct {
		duration int
		min, max int
	}{
		{15, 3, 4},
		{20, 4, 6},
		{30, 4, 6},
		{45, 5, 8},
		{60, 6, 10},
		{120, 8, 12},
	}
	for _, tt := range tests {
		minBeats, maxBeats := b.BeatRange(tt.duration)
		assert.Equal(t, tt.min, minBeats, "duration %d", tt.duration)
		assert.Equal(t, tt.max, maxBeats, "duration %d", tt.duration)
	}
}

func TestPlanPrompt(t *testing.T) {
	b := MustLoad()
	project := testProject()
	p := b.PlanPrompt(PlanInput{
		Project:   project,
		Personas:  project.PersonasFor([]string{"per_1"}),
		Platform:  "tiktok",
		Angles:    []string{"pain-agitation", "social-proof"},
		Durations: []int{15, 30},
		Count:     4,
	})

	assert.Contains(t, p.System, "JSON")
	assert.Contains(t, p.User, "LashLock Mascara")
	assert.Contains(t, p.User, "NEVER claim or imply: cures eyelash loss")
	assert.Contains(t, p.User, "Busy mom")
	assert.NotContains(t, p.User, "Gym goer")
	assert.Contains(t, p.User, "exactly 4 distinct script plans")
	assert.Contains(t, p.User, "1-15s: 3-4 beats")
	assert.Contains(t, p.User, "16-30s: 4-6 beats")
	assert.Contains(t, p.User, "pain-agitation, social-proof")
	assert.Contains(t, p.User, PlanShape)
}

func TestExpansionPrompt(t *testing.T) {
	b := MustLoad()
	p := b.ExpansionPrompt(ExpansionInput{
		Project:  testProject(),
		Platform: "youtube_shorts",
		Plan: model.Plan{
			Angle:           "social-proof",
			Duration:        30,
			HookIdea:        "Show 3 friends testing it",
			Beats:           []string{"hook", "demo", "cta"},
			ComplianceNotes: []string{"no medical claims"},
		},
	})

	assert.Contains(t, p.User, "YouTube Shorts")
	assert.Contains(t, p.User, "Duration: 30s (4-6 beats)")
	assert.Contains(t, p.User, "Beat 2: demo")
	assert.Contains(t, p.User, "Compliance: no medical claims")
	assert.Contains(t, p.User, ScriptShape)
}

func TestRegenerationPrompt(t *testing.T) {
	b := MustLoad()
	p := b.RegenerationPrompt(RegenerationInput{
		Project:  testProject(),
		Platform: "tiktok",
		Source: &model.Script{
			Angle:       "pain-agitation",
			Duration:    15,
			Hook:        "Tired of smudges?",
			Storyboard:  []model.Beat{{TimeRange: "0-3s", Shot: "Close-up"}},
			CTAVariants: []string{"Shop now"},
		},
		Instruction: "  make it funnier  ",
	})

	assert.Contains(t, p.User, "Tired of smudges?")
	assert.Contains(t, p.User, "\"shot\": \"Close-up\"")
	assert.Contains(t, p.User, "REVISION INSTRUCTION:\nmake it funnier")
}

func TestRepairPrompt(t *testing.T) {
	p := RepairPrompt(`{"hook": "x",`, errors.New("unexpected end of JSON input"), ScriptShape)
	assert.Contains(t, p.User, "unexpected end of JSON input")
	assert.Contains(t, p.User, `{"hook": "x",`)
	assert.Contains(t, p.User, "Fix this JSON")
}
