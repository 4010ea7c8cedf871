//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/replinet/internal/config"
)

func InitializeServer(c *config.Config) (*ServerApp, error) {
	wire.Build(ServerSet)
	return nil, nil
}

func InitializeClient(c *config.Config) (*ClientApp, error) {
	wire.Build(ClientSet)
	return nil, nil
}
