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

package llm

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelscript_llm_requests_total",
			Help: "Total number of chat completion attempts.",
		},
		[]string{"model", "status"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelscript_llm_request_duration_seconds",
			Help:    "Histogram of chat completion latencies.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model"},
	)
	promptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelscript_llm_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model"},
	)
	completionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelscript_llm_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"model"},
	)
	estimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelscript_llm_estimated_cost_usd_total",
			Help: "Estimated spend on chat completions in USD.",
		},
		[]string{"model"},
	)
)

var million = decimal.NewFromInt(1_000_000)

// Pricing is the provider price per million tokens.
type Pricing struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

// Cost estimates the USD cost of one completion.
func (p Pricing) Cost(prompt, completion int) decimal.Decimal {
	in := p.InputPerMillion.Mul(decimal.NewFromInt(int64(prompt))).Div(million)
	out := p.OutputPerMillion.Mul(decimal.NewFromInt(int64(completion))).Div(million)
	return in.Add(out)
}

// estimateTokens counts tokens locally when the provider omits usage.
func estimateTokens(model string, texts ...string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0
		}
	}
	total := 0
	for _, t := range texts {
		total += len(enc.Encode(t, nil, nil))
	}
	return total
}
