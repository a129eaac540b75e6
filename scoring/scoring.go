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

// Package scoring grades generated scripts with fixed, deterministic rules.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/reelscript/reelscript/model"
)

const (
	subScoreCap = 25.0

	forbiddenPenalty = 8.0
)

var (
	interruptPattern = regexp.MustCompile(`\b(stop|but|don't|dont|wait)\b|\bif you`)
	digitPattern     = regexp.MustCompile(`[0-9]`)

	benefitKeywords = []string{
		"save", "easy", "fast", "quick", "instant", "results", "proven", "natural",
		"long-lasting", "all day", "waterproof", "smudge-proof", "no more", "without",
		"guarantee", "effortless", "simple", "gentle", "lightweight", "volume", "boost",
	}

	visualKeywords = []string{
		"show", "hold", "point", "close-up", "closeup", "zoom", "pan", "swipe",
		"apply", "pour", "unbox", "reveal", "demonstrate", "split-screen",
		"before and after", "tap", "slow-motion", "cut to",
	}
)

// Result is the full breakdown behind a score.
type Result struct {
	Score      int
	Hook       float64
	Clarity    float64
	Visuality  float64
	Compliance float64
	Warnings   []string
}

// Score returns the 0-100 quality score of script and the warnings raised while grading it.
func Score(script *model.Script, forbiddenClaims []string) (int, []string) {
	r := Evaluate(script, forbiddenClaims)
	return r.Score, r.Warnings
}

// Evaluate computes every sub-score. It performs no I/O and the same input
// always produces the same result.
func Evaluate(script *model.Script, forbiddenClaims []string) Result {
	r := Result{
		Hook:      hookStrength(script.Hook),
		Clarity:   clarity(script),
		Visuality: visuality(script.Storyboard),
	}

	var complianceWarnings []string
	r.Compliance, complianceWarnings = compliance(script, forbiddenClaims)
	r.Warnings = append(r.Warnings, complianceWarnings...)
	r.Warnings = append(r.Warnings, structuralWarnings(script)...)

	total := math.Round(r.Hook + r.Clarity + r.Visuality + r.Compliance)
	r.Score = int(math.Max(0, math.Min(100, total)))
	return r
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "’", "'"))
}

func hookStrength(hook string) float64 {
	h := normalize(strings.TrimSpace(hook))
	if h == "" {
		return 0
	}

	var score float64
	if interruptPattern.MatchString(h) {
		score += 8
	}
	if digitPattern.MatchString(h) {
		score += 7
	}
	if strings.Contains(h, "?") {
		score += 5
	}

	words := len(strings.Fields(h))
	switch {
	case words <= 10:
		score += 5
	case words <= 15:
		score += 3
	}
	return math.Min(score, subScoreCap)
}

func clarity(script *model.Script) float64 {
	var opening strings.Builder
	for i, beat := range script.Storyboard {
		if i == 2 {
			break
		}
		opening.WriteString(normalize(beat.Shot))
		opening.WriteString(" ")
		opening.WriteString(normalize(beat.OnScreenText))
		opening.WriteString(" ")
		opening.WriteString(normalize(beat.Spoken))
		opening.WriteString(" ")
	}

	text := opening.String()
	matched := 0
	for _, kw := range benefitKeywords {
		if strings.Contains(text, kw) {
			matched++
		}
		if matched == 3 {
			break
		}
	}

	score := float64(matched) * 5
	if strings.TrimSpace(script.Hook) != "" && len(script.Storyboard) >= 3 && len(script.CTAVariants) >= 1 {
		score += 10
	}
	return math.Min(score, subScoreCap)
}

func visuality(storyboard []model.Beat) float64 {
	if len(storyboard) == 0 {
		return 0
	}

	visual := 0
	hasBRoll := false
	for _, beat := range storyboard {
		shot := normalize(beat.Shot)
		for _, kw := range visualKeywords {
			if strings.Contains(shot, kw) {
				visual++
				break
			}
		}
		if len(beat.BRoll) > 0 {
			hasBRoll = true
		}
	}

	score := 15 * float64(visual) / float64(len(storyboard))
	if hasBRoll {
		score += 5
	}
	if len(storyboard) >= 4 {
		score += 5
	}
	return math.Min(score, subScoreCap)
}

func compliance(script *model.Script, forbiddenClaims []string) (float64, []string) {
	var corpus strings.Builder
	corpus.WriteString(normalize(script.Hook))
	for _, beat := range script.Storyboard {
		corpus.WriteString("\n")
		corpus.WriteString(normalize(beat.Spoken))
		corpus.WriteString("\n")
		corpus.WriteString(normalize(beat.OnScreenText))
	}
	for _, cta := range script.CTAVariants {
		corpus.WriteString("\n")
		corpus.WriteString(normalize(cta))
	}
	text := corpus.String()

	score := subScoreCap
	var warnings []string
	seen := make(map[string]struct{})
	for _, claim := range forbiddenClaims {
		phrase := normalize(strings.TrimSpace(claim))
		if phrase == "" {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		if strings.Contains(text, phrase) {
			score -= forbiddenPenalty
			warnings = append(warnings, fmt.Sprintf("forbidden claim detected: %q", strings.TrimSpace(claim)))
		}
	}
	return math.Max(score, 0), warnings
}

func structuralWarnings(script *model.Script) []string {
	var warnings []string
	if len(script.CTAVariants) == 0 {
		warnings = append(warnings, "missing CTA variants")
	}
	if len(script.FilmingChecklist) == 0 {
		warnings = append(warnings, "missing filming checklist")
	}
	if len(script.Storyboard) < 3 {
		warnings = append(warnings, "storyboard has fewer than 3 beats")
	}
	return warnings
}
