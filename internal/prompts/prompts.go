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
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reelscript/reelscript/model"
)

//go:embed styles.yaml
var stylesFS embed.FS

// PlanShape and ScriptShape describe the JSON the model must return. They are
// embedded in generation prompts and echoed back in repair prompts.
const (
	PlanShape = `{"plans":[{"angle":"string","duration":15,"hook_idea":"string","beats":["string"],"compliance_notes":["string"]}]}`

	ScriptShape = `{"hook":"string","storyboard":[{"time_range":"0-3s","shot":"string","on_screen_text":"string","spoken":"string","broll":["string"]}],"cta_variants":["string"],"filming_checklist":["string"],"warnings":["string"]}`
)

type PlatformStyle struct {
	Name        string `yaml:"name"`
	Aspect      string `yaml:"aspect"`
	Tone        string `yaml:"tone"`
	Pacing      string `yaml:"pacing"`
	TextOverlay string `yaml:"text_overlay"`
	Audio       string `yaml:"audio"`
}

type BeatGuideline struct {
	MaxDuration int `yaml:"max_duration"`
	MinBeats    int `yaml:"min_beats"`
	MaxBeats    int `yaml:"max_beats"`
}

type styles struct {
	DefaultPlatform string                   `yaml:"default_platform"`
	Platforms       map[string]PlatformStyle `yaml:"platforms"`
	BeatGuidelines  []BeatGuideline          `yaml:"beat_guidelines"`
}

// Prompt is a system and user message pair.
type Prompt struct {
	System string
	User   string
}

// Builder renders generation prompts from the embedded style tables.
type Builder struct {
	styles styles
}

func Load() (*Builder, error) {
	raw, err := stylesFS.ReadFile("styles.yaml")
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

func parse(raw []byte) (*Builder, error) {
	var s styles
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse styles: %w", err)
	}
	if len(s.Platforms) == 0 {
		return nil, fmt.Errorf("styles: no platforms defined")
	}
	if _, ok := s.Platforms[s.DefaultPlatform]; !ok {
		return nil, fmt.Errorf("styles: default platform %q is not defined", s.DefaultPlatform)
	}
	if len(s.BeatGuidelines) == 0 {
		return nil, fmt.Errorf("styles: no beat guidelines defined")
	}
	sort.Slice(s.BeatGuidelines, func(i, j int) bool {
		return s.BeatGuidelines[i].MaxDuration < s.BeatGuidelines[j].MaxDuration
	})
	return &Builder{styles: s}, nil
}

// MustLoad panics if the embedded styles are invalid.
func MustLoad() *Builder {
	b, err := Load()
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) HasPlatform(platform string) bool {
	_, ok := b.styles.Platforms[platform]
	return ok
}

func (b *Builder) DefaultPlatform() string {
	return b.styles.DefaultPlatform
}

func (b *Builder) Platforms() []string {
	names := make([]string, 0, len(b.styles.Platforms))
	for name := range b.styles.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Style returns the profile for platform, falling back to the default platform.
func (b *Builder) Style(platform string) PlatformStyle {
	if s, ok := b.styles.Platforms[platform]; ok {
		return s
	}
	return b.styles.Platforms[b.styles.DefaultPlatform]
}

// MaxDuration is the longest duration covered by the guideline table.
func (b *Builder) MaxDuration() int {
	return b.styles.BeatGuidelines[len(b.styles.BeatGuidelines)-1].MaxDuration
}

// BeatRange returns the expected beat count for a script of duration seconds.
// Durations past the table use its last row.
func (b *Builder) BeatRange(duration int) (int, int) {
	for _, g := range b.styles.BeatGuidelines {
		if duration <= g.MaxDuration {
			return g.MinBeats, g.MaxBeats
		}
	}
	last := b.styles.BeatGuidelines[len(b.styles.BeatGuidelines)-1]
	return last.MinBeats, last.MaxBeats
}

type PlanInput struct {
	Project   *model.Project
	Personas  []model.Persona
	Platform  string
	Angles    []string
	Durations []int
	Count     int
}

func (b *Builder) PlanPrompt(in PlanInput) Prompt {
	var sb strings.Builder
	writeProduct(&sb, in.Project)
	writePersonas(&sb, in.Personas)
	b.writeStyle(&sb, in.Platform)

	sb.WriteString("BEAT COUNT GUIDELINES:\n")
	prev := 0
	for _, g := range b.styles.BeatGuidelines {
		fmt.Fprintf(&sb, "- %d-%ds: %d-%d beats\n", prev+1, g.MaxDuration, g.MinBeats, g.MaxBeats)
		prev = g.MaxDuration
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "ANGLES (use only these): %s\n", strings.Join(in.Angles, ", "))
	durations := make([]string, len(in.Durations))
	for i, d := range in.Durations {
		durations[i] = fmt.Sprintf("%ds", d)
	}
	fmt.Fprintf(&sb, "DURATIONS (use only these): %s\n\n", strings.Join(durations, ", "))

	fmt.Fprintf(&sb, "Create exactly %d distinct script plans. Spread them across the angles and durations.\n", in.Count)
	sb.WriteString("Each plan needs a scroll-stopping hook idea, ordered beat descriptions matching the beat guideline for its duration, and compliance notes.\n")
	fmt.Fprintf(&sb, "Respond with JSON only, in this shape:\n%s\n", PlanShape)

	return Prompt{
		System: "You are a senior performance creative strategist who plans short-form video ads. You always answer with valid JSON and nothing else.",
		User:   sb.String(),
	}
}

type ExpansionInput struct {
	Project  *model.Project
	Personas []model.Persona
	Platform string
	Plan     model.Plan
}

func (b *Builder) ExpansionPrompt(in ExpansionInput) Prompt {
	var sb strings.Builder
	writeProduct(&sb, in.Project)
	writePersonas(&sb, in.Personas)
	b.writeStyle(&sb, in.Platform)

	minBeats, maxBeats := b.BeatRange(in.Plan.Duration)
	sb.WriteString("PLAN:\n")
	fmt.Fprintf(&sb, "- Angle: %s\n", in.Plan.Angle)
	fmt.Fprintf(&sb, "- Duration: %ds (%d-%d beats)\n", in.Plan.Duration, minBeats, maxBeats)
	fmt.Fprintf(&sb, "- Hook idea: %s\n", in.Plan.HookIdea)
	for i, beat := range in.Plan.Beats {
		fmt.Fprintf(&sb, "- Beat %d: %s\n", i+1, beat)
	}
	for _, note := range in.Plan.ComplianceNotes {
		fmt.Fprintf(&sb, "- Compliance: %s\n", note)
	}
	sb.WriteString("\n")

	sb.WriteString("Write the full script for this plan. Time ranges must cover the whole duration without gaps. ")
	sb.WriteString("Give at least two CTA variants and a practical filming checklist.\n")
	fmt.Fprintf(&sb, "Respond with a single JSON object only, in this shape:\n%s\n", ScriptShape)

	return Prompt{
		System: "You are a direct-response scriptwriter for short-form video ads. You always answer with valid JSON and nothing else.",
		User:   sb.String(),
	}
}

type RegenerationInput struct {
	Project     *model.Project
	Platform    string
	Source      *model.Script
	Instruction string
}

func (b *Builder) RegenerationPrompt(in RegenerationInput) Prompt {
	var sb strings.Builder
	writeProduct(&sb, in.Project)
	b.writeStyle(&sb, in.Platform)

	current := struct {
		Hook        string       `json:"hook"`
		Storyboard  []model.Beat `json:"storyboard"`
		CTAVariants []string     `json:"cta_variants"`
	}{in.Source.Hook, in.Source.Storyboard, in.Source.CTAVariants}
	encoded, _ := json.MarshalIndent(current, "", "  ")

	minBeats, maxBeats := b.BeatRange(in.Source.Duration)
	fmt.Fprintf(&sb, "CURRENT SCRIPT (%s angle, %ds, %d-%d beats):\n%s\n\n", in.Source.Angle, in.Source.Duration, minBeats, maxBeats, encoded)
	fmt.Fprintf(&sb, "REVISION INSTRUCTION:\n%s\n\n", strings.TrimSpace(in.Instruction))
	sb.WriteString("Rewrite the script following the instruction. Keep the angle and duration unless the instruction says otherwise.\n")
	fmt.Fprintf(&sb, "Respond with a single JSON object only, in this shape:\n%s\n", ScriptShape)

	return Prompt{
		System: "You are a direct-response scriptwriter revising a short-form video ad. You always answer with valid JSON and nothing else.",
		User:   sb.String(),
	}
}

// RepairPrompt asks the model to fix its own malformed output.
func RepairPrompt(raw string, parseErr error, shape string) Prompt {
	var sb strings.Builder
	sb.WriteString("The following text was supposed to be valid JSON but could not be parsed.\n\n")
	if parseErr != nil {
		fmt.Fprintf(&sb, "PARSE ERROR: %s\n\n", parseErr.Error())
	}
	fmt.Fprintf(&sb, "EXPECTED SHAPE:\n%s\n\n", shape)
	fmt.Fprintf(&sb, "TEXT:\n%s\n\n", raw)
	sb.WriteString("Fix this JSON. Return only the corrected JSON, with no markdown and no commentary.")
	return Prompt{
		System: "You repair malformed JSON. You return only JSON.",
		User:   sb.String(),
	}
}

func writeProduct(sb *strings.Builder, p *model.Project) {
	if p == nil {
		return
	}
	sb.WriteString("PRODUCT:\n")
	fmt.Fprintf(sb, "- Name: %s\n", p.ProductName)
	if p.Description != "" {
		fmt.Fprintf(sb, "- Description: %s\n", p.Description)
	}
	if p.TargetAudience != "" {
		fmt.Fprintf(sb, "- Audience: %s\n", p.TargetAudience)
	}
	if len(p.Benefits) > 0 {
		fmt.Fprintf(sb, "- Benefits: %s\n", strings.Join(p.Benefits, "; "))
	}
	if len(p.ForbiddenClaims) > 0 {
		fmt.Fprintf(sb, "- NEVER claim or imply: %s\n", strings.Join(p.ForbiddenClaims, "; "))
	}
	sb.WriteString("\n")
}

func writePersonas(sb *strings.Builder, personas []model.Persona) {
	if len(personas) == 0 {
		return
	}
	sb.WriteString("PERSONAS:\n")
	for _, persona := range personas {
		fmt.Fprintf(sb, "- %s: %s", persona.Name, persona.Description)
		if len(persona.PainPoints) > 0 {
			fmt.Fprintf(sb, " (pain points: %s)", strings.Join(persona.PainPoints, "; "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func (b *Builder) writeStyle(sb *strings.Builder, platform string) {
	style := b.Style(platform)
	fmt.Fprintf(sb, "PLATFORM: %s (%s)\n", style.Name, style.Aspect)
	fmt.Fprintf(sb, "- Tone: %s\n", style.Tone)
	fmt.Fprintf(sb, "- Pacing: %s\n", style.Pacing)
	fmt.Fprintf(sb, "- Text overlay: %s\n", style.TextOverlay)
	fmt.Fprintf(sb, "- Audio: %s\n\n", style.Audio)
}
