// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/models"
)

type stubLicenses struct {
	counts map[models.LicenseStatus]int
	err    error
}

func (s stubLicenses) CountByStatus(context.Context) (map[models.LicenseStatus]int, error) {
	return s.counts, s.err
}

type stubActivations struct {
	counts []models.StatusCount
	err    error
}

func (s stubActivations) CountByStatus(context.Context) ([]models.StatusCount, error) {
	return s.counts, s.err
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil, nil)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.registry)
	assert.NotNil(t, manager.licensingCollector)
	assert.IsType(t, &prometheus.Registry{}, manager.GetRegistry())
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager(nil, nil)
	manager2 := NewManager(nil, nil)

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.licensingCollector, manager2.licensingCollector, "Each manager should have its own collector")
}

func TestManager_Counters(t *testing.T) {
	manager := NewManager(nil, nil)

	manager.LicenseGenerated(models.LicenseModelOnlineKey)
	manager.LicenseGenerated(models.LicenseModelOnlineKey)
	manager.LicenseGenerated(models.LicenseModelVolumetric)
	manager.ActivationAttempt(activation.OutcomeActivated)
	manager.ActivationAttempt(activation.OutcomeLimitExceeded)
	manager.ActivationAttempt("")

	assert.Equal(t, 2.0, testutil.ToFloat64(manager.generated.WithLabelValues("online_key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(manager.generated.WithLabelValues("volumetric")))
	assert.Equal(t, 1.0, testutil.ToFloat64(manager.attempts.WithLabelValues("limit_exceeded")))
	assert.Equal(t, 2, testutil.CollectAndCount(manager.attempts))

	manager.SweepCompleted(&activation.Report{
		ExpiredLicenses: 3,
		Devices:         &activation.SweepResult{Kind: models.ActivationKindDevice, Expired: 2},
		Slots:           &activation.SweepResult{Kind: models.ActivationKindSlot},
	})
	manager.SweepCompleted(nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(manager.expiredLicenses))
	assert.Equal(t, 2.0, testutil.ToFloat64(manager.sweptActivation.WithLabelValues("device")))
	assert.Equal(t, 0.0, testutil.ToFloat64(manager.sweptActivation.WithLabelValues("slot")))
}

func TestLicensingCollector_Describe(t *testing.T) {
	collector := NewLicensingCollector(nil, nil)

	descChan := make(chan *prometheus.Desc, 10)
	collector.Describe(descChan)
	close(descChan)

	var descs []*prometheus.Desc
	for desc := range descChan {
		descs = append(descs, desc)
	}

	assert.Len(t, descs, 3, "Should have 3 metric descriptors")
}

func TestLicensingCollector_CollectWithNilDependencies(t *testing.T) {
	collector := NewLicensingCollector(nil, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	metricCount := testutil.CollectAndCount(registry)
	assert.Equal(t, 0, metricCount, "Should collect 0 metrics with nil dependencies")
}

func TestLicensingCollector_Collect(t *testing.T) {
	collector := NewLicensingCollector(
		stubLicenses{counts: map[models.LicenseStatus]int{
			models.LicenseStatusActive:  4,
			models.LicenseStatusRevoked: 1,
		}},
		stubActivations{counts: []models.StatusCount{
			{Kind: models.ActivationKindDevice, Status: models.ActivationStatusActive, Count: 3},
			{Kind: models.ActivationKindSlot, Status: models.ActivationStatusExpired, Count: 7},
		}},
	)

	expected := `
# HELP licensor_activations Number of activations by kind and status
# TYPE licensor_activations gauge
licensor_activations{kind="device",status="active"} 3
licensor_activations{kind="slot",status="expired"} 7
# HELP licensor_licenses Number of issued licenses by status
# TYPE licensor_licenses gauge
licensor_licenses{status="active"} 4
licensor_licenses{status="expired"} 0
licensor_licenses{status="revoked"} 1
licensor_licenses{status="suspended"} 0
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "licensor_licenses", "licensor_activations")
	require.NoError(t, err)
}

func TestLicensingCollector_ReportsErrors(t *testing.T) {
	collector := NewLicensingCollector(
		stubLicenses{err: errors.New("database is locked")},
		stubActivations{err: errors.New("database is locked")},
	)

	expected := `
# HELP licensor_scrape_errors_total Scrape errors by source
# TYPE licensor_scrape_errors_total counter
licensor_scrape_errors_total{type="activations"} 1
licensor_scrape_errors_total{type="licenses"} 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "licensor_scrape_errors_total")
	require.NoError(t, err)
}

func BenchmarkLicensingCollector_Describe(b *testing.B) {
	collector := NewLicensingCollector(nil, nil)
	descChan := make(chan *prometheus.Desc, 10)

	for b.Loop() {
		collector.Describe(descChan)
		for len(descChan) > 0 {
			<-descChan
		}
	}
}
