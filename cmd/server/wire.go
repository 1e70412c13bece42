// File: cmd/server/wire.go
//go:build wireinject
// +build wireinject

package main

import (
	"cargo_portal/internal/app"
	"cargo_portal/internal/audit"
	"cargo_portal/internal/config"
	"cargo_portal/internal/identity"
	"cargo_portal/internal/jobs"
	"cargo_portal/internal/platform/database"
	"cargo_portal/internal/platform/logger"
	"cargo_portal/internal/portal"
	"cargo_portal/internal/roles"

	"github.com/google/wire"
)

// initializeServer is the main Wire injector.
func initializeServer(cfg *config.Config) (*app.Server, func(), error) {
	wire.Build(
		// Platform Layer
		logger.New,
		database.NewGORM,

		// Upstreams
		identity.NewLazy,
		wire.Bind(new(identity.Acquirer), new(*identity.Lazy)),
		wire.Bind(new(identity.Pinger), new(*identity.Lazy)),
		roles.NewClient,
		wire.Bind(new(portal.RoleLookup), new(*roles.Client)),
		wire.Bind(new(jobs.APIPinger), new(*roles.Client)),

		// Sign-in flow
		audit.NewRecorder,
		portal.NewCoordinator,
		portal.NewHandler,
		jobs.NewUpstreamProbeJob,

		// Application Layer
		app.NewServer,
	)
	return nil, nil, nil
}
