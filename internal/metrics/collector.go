// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/models"
)

const collectTimeout = 10 * time.Second

type LicenseCounter interface {
	CountByStatus(ctx context.Context) (map[models.LicenseStatus]int, error)
}

type ActivationCounter interface {
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

// LicensingCollector reports license and activation totals straight from the
// database on every scrape.
type LicensingCollector struct {
	licenses    LicenseCounter
	activations ActivationCounter

	licensesDesc     *prometheus.Desc
	activationsDesc  *prometheus.Desc
	scrapeErrorsDesc *prometheus.Desc
}

func NewLicensingCollector(licenses LicenseCounter, activations ActivationCounter) *LicensingCollector {
	return &LicensingCollector{
		licenses:    licenses,
		activations: activations,

		licensesDesc: prometheus.NewDesc(
			"licensor_licenses",
			"Number of issued licenses by status",
			[]string{"status"},
			nil,
		),
		activationsDesc: prometheus.NewDesc(
			"licensor_activations",
			"Number of activations by kind and status",
			[]string{"kind", "status"},
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"licensor_scrape_errors_total",
			"Scrape errors by source",
			[]string{"type"},
			nil,
		),
	}
}

func (c *LicensingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensesDesc
	ch <- c.activationsDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicensingCollector) reportError(ch chan<- prometheus.Metric, errorType string) {
	ch <- prometheus.MustNewConstMetric(
		c.scrapeErrorsDesc,
		prometheus.CounterValue,
		1,
		errorType,
	)
}

func (c *LicensingCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	if c.licenses != nil {
		counts, err := c.licenses.CountByStatus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count licenses for metrics")
			c.reportError(ch, "licenses")
		} else {
			for _, status := range []models.LicenseStatus{
				models.LicenseStatusActive,
				models.LicenseStatusSuspended,
				models.LicenseStatusExpired,
				models.LicenseStatusRevoked,
			} {
				ch <- prometheus.MustNewConstMetric(
					c.licensesDesc,
					prometheus.GaugeValue,
					float64(counts[status]),
					string(status),
				)
			}
		}
	}

	if c.activations != nil {
		counts, err := c.activations.CountByStatus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count activations for metrics")
			c.reportError(ch, "activations")
			return
		}

		for _, count := range counts {
			ch <- prometheus.MustNewConstMetric(
				c.activationsDesc,
				prometheus.GaugeValue,
				float64(count.Count),
				string(count.Kind),
				string(count.Status),
			)
		}
	}
}
