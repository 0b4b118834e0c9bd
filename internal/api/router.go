// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/api/handlers"
	apimiddleware "github.com/autobrr/licensor/internal/api/middleware"
	"github.com/autobrr/licensor/internal/config"
	"github.com/autobrr/licensor/internal/database"
	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/keyvault"
	"github.com/autobrr/licensor/internal/metrics"
	"github.com/autobrr/licensor/internal/models"
	"github.com/autobrr/licensor/internal/web/swagger"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config         *config.AppConfig
	DB             *database.DB
	Vault          *keyvault.Vault
	Factory        *generation.Factory
	Engine         *activation.Engine
	Sweeper        *activation.Sweeper
	LicenseStore   *models.LicenseStore
	DirectoryStore *models.DirectoryStore
	MetricsManager *metrics.Manager
	SwaggerHandler *swagger.Handler
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	issuer := ""
	if deps.Config != nil && deps.Config.Config != nil {
		issuer = deps.Config.Config.Issuer
	}

	licensesHandler := handlers.NewLicensesHandler(deps.Factory, deps.LicenseStore, deps.Engine, issuer)
	keysHandler := handlers.NewKeysHandler(deps.Vault, deps.DirectoryStore)
	directoryHandler := handlers.NewDirectoryHandler(deps.DirectoryStore)
	activationsHandler := handlers.NewActivationsHandler(deps.Engine)
	sweepsHandler := handlers.NewSweepsHandler(deps.Sweeper)

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", directoryHandler.CreateProduct)

			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", directoryHandler.GetProduct)

				r.Route("/keys", func(r chi.Router) {
					r.Get("/", keysHandler.ListKeys)
					r.Get("/active", keysHandler.GetActiveKey)
					r.Delete("/active", keysHandler.DeactivateKey)
					r.Post("/rotate", keysHandler.RotateKeys)
				})
			})
		})

		r.Route("/consumers", func(r chi.Router) {
			r.Post("/", directoryHandler.CreateConsumer)
			r.Get("/{consumerID}", directoryHandler.GetConsumer)
		})

		r.Route("/tiers", func(r chi.Router) {
			r.Post("/", directoryHandler.CreateTier)
			r.Get("/{tierID}", directoryHandler.GetTier)
		})

		r.Route("/licenses", func(r chi.Router) {
			r.Get("/", licensesHandler.ListLicenses)
			r.Post("/", licensesHandler.GenerateLicense)
			r.Post("/verify", licensesHandler.VerifyLicenseKey)

			r.Route("/{licenseID}", func(r chi.Router) {
				r.Get("/", licensesHandler.GetLicense)
				r.Get("/status", licensesHandler.GetLicenseStatus)
				r.Get("/verify", licensesHandler.VerifyLicense)
				r.Post("/revoke", licensesHandler.RevokeLicense)
				r.Post("/suspend", licensesHandler.SuspendLicense)
				r.Post("/resume", licensesHandler.ResumeLicense)
			})
		})

		r.Route("/activations", func(r chi.Router) {
			r.Post("/", activationsHandler.Activate)

			r.Route("/{signature}", func(r chi.Router) {
				r.Post("/heartbeat", activationsHandler.Heartbeat)
				r.Post("/deactivate", activationsHandler.Deactivate)
				r.Post("/suspend", activationsHandler.Suspend)
				r.Post("/revoke", activationsHandler.Revoke)
			})
		})

		r.Route("/slots", func(r chi.Router) {
			r.Post("/", activationsHandler.AllocateSlot)

			r.Route("/{signature}", func(r chi.Router) {
				r.Post("/heartbeat", activationsHandler.SlotHeartbeat)
				r.Post("/release", activationsHandler.ReleaseSlot)
			})
		})

		if deps.Sweeper != nil {
			r.Route("/sweeps", func(r chi.Router) {
				r.Post("/", sweepsHandler.RunSweep)
				r.Get("/last", sweepsHandler.LastSweep)
			})
		}
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.Ping(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				handlers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsManager != nil {
		metricsHandler := handlers.NewMetricsHandler(deps.MetricsManager)
		r.Get("/metrics", metricsHandler.ServeMetrics)
	}

	if deps.SwaggerHandler != nil {
		deps.SwaggerHandler.RegisterRoutes(r)
	}

	return r
}
