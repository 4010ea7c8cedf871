package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderFactory builds a provider with its default configuration.
type ProviderFactory func() Provider

var (
	factoriesMu sync.RWMutex
	factories   = map[string]ProviderFactory{}
)

// RegisterProvider makes a provider discoverable by name. Provider packages
// call it from init, so importing a package is enough to offer it.
func RegisterProvider(name string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// AvailableProviders returns the registered provider names, sorted.
func AvailableProviders() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasProvider reports whether name has been registered.
func HasProvider(name string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Installer holds the single provider of a host process. A second Install
// fails instead of silently replacing the first.
type Installer struct {
	mu       sync.Mutex
	provider Provider
}

func NewInstaller() *Installer {
	return &Installer{}
}

// Install sets p as the provider.
func (i *Installer) Install(p Provider) error {
	if p == nil {
		return ErrNoProvider
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.provider != nil {
		return fmt.Errorf("%w: %s is installed, refusing %s", ErrProviderInstalled, i.provider.Name(), p.Name())
	}
	i.provider = p
	return nil
}

// Discover builds the provider registered under name and installs it.
func (i *Installer) Discover(name string) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownProvider, name, AvailableProviders())
	}

	p := factory()
	if err := i.Install(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Provider returns the installed provider.
func (i *Installer) Provider() (Provider, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.provider == nil {
		return nil, ErrNoProvider
	}
	return i.provider, nil
}
