// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/models"
)

type Manager struct {
	registry           *prometheus.Registry
	licensingCollector *LicensingCollector

	generated       *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	sweptActivation *prometheus.CounterVec
	expiredLicenses prometheus.Counter
}

func NewManager(licenses LicenseCounter, activations ActivationCounter) *Manager {
	registry := prometheus.NewRegistry()

	licensingCollector := NewLicensingCollector(licenses, activations)
	registry.MustRegister(licensingCollector)
	registry.MustRegister(collectors.NewGoCollector())

	m := &Manager{
		registry:           registry,
		licensingCollector: licensingCollector,

		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licensor_generated_licenses_total",
			Help: "Licenses issued by model",
		}, []string{"model"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licensor_activation_attempts_total",
			Help: "Activation and slot attempts by outcome",
		}, []string{"outcome"}),
		sweptActivation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licensor_swept_activations_total",
			Help: "Activations expired by the stale sweep by kind",
		}, []string{"kind"}),
		expiredLicenses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "licensor_expired_licenses_total",
			Help: "Licenses moved to expired by the sweeper",
		}),
	}
	registry.MustRegister(m.generated, m.attempts, m.sweptActivation, m.expiredLicenses)

	log.Info().Msg("Metrics manager initialized with licensing collector")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) LicenseGenerated(model models.LicenseModel) {
	m.generated.WithLabelValues(string(model)).Inc()
}

func (m *Manager) ActivationAttempt(outcome activation.Outcome) {
	if outcome == "" {
		return
	}
	m.attempts.WithLabelValues(string(outcome)).Inc()
}

// SweepCompleted records what a sweeper run changed
func (m *Manager) SweepCompleted(report *activation.Report) {
	if report == nil {
		return
	}
	m.expiredLicenses.Add(float64(report.ExpiredLicenses))
	for _, result := range []*activation.SweepResult{report.Devices, report.Slots} {
		if result != nil {
			m.sweptActivation.WithLabelValues(string(result.Kind)).Add(float64(result.Expired))
		}
	}
}
