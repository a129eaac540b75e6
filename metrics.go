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

package reelscript

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelscript_jobs_total",
		Help: "Generation jobs by type and outcome.",
	}, []string{"type", "outcome"})

	scriptsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelscript_scripts_total",
		Help: "Scripts written in a final state.",
	}, []string{"status"})

	scriptScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelscript_script_score",
		Help:    "Quality score of completed scripts.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	selfRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelscript_json_repairs_total",
		Help: "JSON self-repair attempts by outcome.",
	}, []string{"outcome"})

	creditsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelscript_credits_consumed_total",
		Help: "Credits drawn per bucket.",
	}, []string{"type"})

	creditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelscript_credits_refunded_total",
		Help: "Credits returned for failed generations.",
	})

	renewalsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelscript_free_renewals_total",
		Help: "Free bucket renewals and initializations made by the sweep.",
	}, []string{"reason"})
)
