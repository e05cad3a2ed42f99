//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/aethersync/aethersync/internal/config"
	"github.com/aethersync/aethersync/internal/server"
)

// InitializeServer assembles a fully wired server from the configuration.
func InitializeServer(ctx context.Context, cfg config.Config) (*server.Server, error) {
	wire.Build(
		ProvideLogger,
		ProvideCodec,
		ProvideRegistry,
		ProvideCache,
		ProvideDurable,
		ProvideEntityStore,
		ProvideRoomRegistry,
		ProvideStepper,
		ProvideTransport,
		ProvideAuthenticator,
		server.NewServer,
	)
	return nil, nil
}
