package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ name string }

func (p stubProvider) Name() string { return p.name }

func (stubProvider) Listen(context.Context, ListenOptions) (ListeningSession, error) {
	return nil, ErrTransportClosed
}

func (stubProvider) Connect(context.Context, string, int) (RemoteSession, error) {
	return nil, ErrTransportClosed
}

func TestInstallerAcceptsOneProvider(t *testing.T) {
	i := NewInstaller()
	_, err := i.Provider()
	assert.ErrorIs(t, err, ErrNoProvider)

	require.NoError(t, i.Install(stubProvider{name: "a"}))
	assert.ErrorIs(t, i.Install(stubProvider{name: "b"}), ErrProviderInstalled)

	p, err := i.Provider()
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name())
}

func TestDiscover(t *testing.T) {
	RegisterProvider("stub-test", func() Provider { return stubProvider{name: "stub-test"} })
	assert.True(t, HasProvider("stub-test"))
	assert.Contains(t, AvailableProviders(), "stub-test")

	i := NewInstaller()
	_, err := i.Discover("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	p, err := i.Discover("stub-test")
	require.NoError(t, err)
	assert.Equal(t, "stub-test", p.Name())

	_, err = i.Discover("stub-test")
	assert.ErrorIs(t, err, ErrProviderInstalled)
}

func TestGetErrorCodeWrapped(t *testing.T) {
	err := WrapError(ErrMessageQueueFull, "send")
	assert.Equal(t, ErrorCodeMessageQueueFull, err.Code)
	assert.True(t, err.IsTemporary())
	assert.ErrorIs(t, err, ErrMessageQueueFull)

	assert.Equal(t, ErrorCodeUnknownError, GetErrorCode(assert.AnError))
}
