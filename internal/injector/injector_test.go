package injector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/config"
	"github.com/zeusync/replinet/internal/core/endpoint"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/protocol/loopback"
	"github.com/zeusync/replinet/internal/core/protocol/tcp"
)

func loopbackConfig() *config.Config {
	c := config.Default()
	c.LogLevel = "error"
	c.Transport.Name = loopback.Name
	c.Server.Port = 0
	return c
}

func TestProvideProviderBuiltins(t *testing.T) {
	c := loopbackConfig()
	c.Transport.Name = tcp.Name
	c.Transport.Linger = time.Second

	installer := protocol.NewInstaller()
	p, err := ProvideProvider(c, installer, log.Nop())
	require.NoError(t, err)
	assert.Equal(t, tcp.Name, p.Name())

	installed, err := installer.Provider()
	require.NoError(t, err)
	assert.Same(t, p, installed)

	// one provider per process
	_, err = ProvideProvider(c, installer, log.Nop())
	assert.ErrorIs(t, err, protocol.ErrProviderInstalled)
}

func TestProvideProviderDiscovers(t *testing.T) {
	p, err := ProvideProvider(loopbackConfig(), protocol.NewInstaller(), log.Nop())
	require.NoError(t, err)
	assert.Equal(t, loopback.Name, p.Name())

	c := loopbackConfig()
	c.Transport.Name = "carrier-pigeon"
	_, err = ProvideProvider(c, protocol.NewInstaller(), log.Nop())
	assert.ErrorIs(t, err, protocol.ErrUnknownProvider)
}

func TestOverrideKeepsDefaultsForZero(t *testing.T) {
	v := 5
	override(&v, 0)
	assert.Equal(t, 5, v)
	override(&v, 9)
	assert.Equal(t, 9, v)
}

func TestInitializeServer(t *testing.T) {
	app, err := InitializeServer(loopbackConfig())
	require.NoError(t, err)
	require.NotNil(t, app.Server)
	require.NotNil(t, app.Arena)
	assert.Equal(t, "server", app.Metrics.Role())

	require.NoError(t, app.Server.Update(context.Background()))
	assert.Equal(t, endpoint.Running, app.Server.State())
	app.Server.Shutdown()
	<-app.Server.Done()
}

func TestInitializeClient(t *testing.T) {
	c := loopbackConfig()
	c.Client.UserID = 9
	app, err := InitializeClient(c)
	require.NoError(t, err)
	require.NotNil(t, app.Pilot)
	assert.Equal(t, "client", app.Metrics.Role())
	assert.Equal(t, endpoint.Created, app.Client.State())

	_, err = InitializeClient(&config.Config{LogLevel: "shouty"})
	assert.Error(t, err)
}
