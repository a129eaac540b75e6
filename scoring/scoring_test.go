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

package scoring

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/reelscript/reelscript/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mascaraScript() *model.Script {
	return &model.Script{
		Hook: "Stop scrolling if you've tried 5 mascaras that smudge?",
		Storyboard: []model.Beat{
			{TimeRange: "0-3s", Shot: "Close-up of smudged lashes", OnScreenText: "No more raccoon eyes", Spoken: "I was done with mascara that runs."},
			{TimeRange: "3-8s", Shot: "Show the wand gliding through lashes", OnScreenText: "Waterproof formula", Spoken: "This one stays put all day."},
			{TimeRange: "8-12s", Shot: "Hold the tube next to face", OnScreenText: "12 hour wear", Spoken: "Even through a workout.", BRoll: []string{"gym mirror shot"}},
			{TimeRange: "12-15s", Shot: "Point at the link below", OnScreenText: "Tap to shop", Spoken: "Grab yours today."},
		},
		CTAVariants:      []string{"Shop now", "Try it risk-free"},
		FilmingChecklist: []string{"Ring light", "Clean lashes before filming"},
	}
}

func TestMascaraScenarioScoresHigh(t *testing.T) {
	script := mascaraScript()
	score, warnings := Score(script, []string{"cures", "clinically proven"})

	assert.GreaterOrEqual(t, score, 80)
	for _, w := range warnings {
		assert.NotContains(t, w, "forbidden claim")
	}
	assert.Empty(t, warnings)
}

func TestHookStrength(t *testing.T) {
	assert.Equal(t, 25.0, hookStrength("Stop scrolling if you've tried 5 mascaras that smudge?"))
	assert.Equal(t, 5.0, hookStrength("Meet our mascara"))
	assert.Equal(t, 0.0, hookStrength(""))
	// "butter" must not count as the contrast marker "but".
	assert.Equal(t, 5.0, hookStrength("Peanut butter lovers"))
	assert.Equal(t, 13.0, hookStrength("Don’t buy another serum"))
	assert.Equal(t, 3.0, hookStrength("one two three four five six seven eight nine ten eleven twelve"))
}

func TestComplianceViolations(t *testing.T) {
	script := mascaraScript()
	script.Storyboard[1].Spoken = "Clinically proven to stay put all day."
	script.CTAVariants = append(script.CTAVariants, "It CURES clumps")

	result := Evaluate(script, []string{"clinically proven", "cures", "Cures", "miracle"})
	assert.Equal(t, 9.0, result.Compliance)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "clinically proven")
	assert.Contains(t, result.Warnings[1], "cures")
}

func TestComplianceFloorsAtZero(t *testing.T) {
	script := &model.Script{Hook: "a b c d"}
	score, _ := compliance(script, []string{"a", "b", "c", "d"})
	assert.Equal(t, 0.0, score)
}

func TestStructuralWarnings(t *testing.T) {
	script := &model.Script{
		Hook:       "Wait for it",
		Storyboard: []model.Beat{{Shot: "Show product"}},
	}
	_, warnings := Score(script, nil)
	assert.Equal(t, []string{
		"missing CTA variants",
		"missing filming checklist",
		"storyboard has fewer than 3 beats",
	}, warnings)
}

func TestVisuality(t *testing.T) {
	assert.Equal(t, 0.0, visuality(nil))
	beats := []model.Beat{{Shot: "Show it"}, {Shot: "Talking head"}}
	assert.Equal(t, 7.5, visuality(beats))
}

func TestScoreIsPureAndBounded(t *testing.T) {
	gofakeit.Seed(42)
	for i := 0; i < 50; i++ {
		script := &model.Script{Hook: gofakeit.Sentence(gofakeit.Number(1, 20))}
		for j := 0; j < gofakeit.Number(0, 8); j++ {
			script.Storyboard = append(script.Storyboard, model.Beat{
				Shot:   gofakeit.Sentence(5),
				Spoken: gofakeit.Sentence(8),
			})
		}
		if gofakeit.Bool() {
			script.CTAVariants = []string{gofakeit.Sentence(3)}
		}
		claims := []string{gofakeit.Word(), gofakeit.Word()}

		s1, w1 := Score(script, claims)
		s2, w2 := Score(script, claims)
		assert.Equal(t, s1, s2)
		assert.Equal(t, w1, w2)
		assert.GreaterOrEqual(t, s1, 0)
		assert.LessOrEqual(t, s1, 100)
	}
}
