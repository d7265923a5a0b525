// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus counters the coordinator increments on
// every authorize/callback/token outcome. One instance is shared across
// all handlers; labels carry the per-request dimension rather than the
// instance.
type metrics struct {
	authorizeRequests *prometheus.CounterVec
	callbackRequests  *prometheus.CounterVec
	tokenRequests     *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *metrics
)

// NewMetricsForRegisterer builds the coordinator's Prometheus counters
// against reg (typically prometheus.DefaultRegisterer). Counters on
// prometheus.DefaultRegisterer are registered once per process and shared
// by every later call, so more than one server can be built in a process.
func NewMetricsForRegisterer(reg prometheus.Registerer) *metrics {
	if reg != prometheus.DefaultRegisterer {
		return newMetrics(reg)
	}
	defaultMetricsOnce.Do(func() { defaultMetrics = newMetrics(reg) })
	return defaultMetrics
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		authorizeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth_broker",
			Name:      "authorize_requests_total",
			Help:      "Total /oauth/authorize requests by outcome.",
		}, []string{"outcome"}),
		callbackRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth_broker",
			Name:      "callback_requests_total",
			Help:      "Total upstream callback requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		tokenRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth_broker",
			Name:      "token_requests_total",
			Help:      "Total /oauth/token requests by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
	}
}

func (m *metrics) observeAuthorize(outcome string) {
	if m == nil {
		return
	}
	m.authorizeRequests.WithLabelValues(outcome).Inc()
}

func (m *metrics) observeCallback(provider, outcome string) {
	if m == nil {
		return
	}
	m.callbackRequests.WithLabelValues(provider, outcome).Inc()
}

func (m *metrics) observeToken(grantType, outcome string) {
	if m == nil {
		return
	}
	m.tokenRequests.WithLabelValues(grantType, outcome).Inc()
}
