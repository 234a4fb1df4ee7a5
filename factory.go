package storagekit

import (
	"context"
	"fmt"
	"sync"
)

// Target describes what a driver factory is asked to connect to.
type Target struct {
	Protocol Protocol
	BasePath string
	Config   Config

	// ClientOptions is passed through to the backend client untouched.
	ClientOptions map[string]string
}

// DriverFactory is a function that creates a FileSystem for a target
type DriverFactory func(ctx context.Context, target *Target) (FileSystem, error)

var (
	driverFactories = make(map[Protocol]DriverFactory)
	factoryMutex    sync.RWMutex
)

// RegisterDriver registers a driver factory function. Only protocols in the
// supported set can be registered.
func RegisterDriver(protocol Protocol, factory DriverFactory) {
	if !protocol.Supported() {
		panic(fmt.Sprintf("storagekit: cannot register driver for unsupported protocol %q", protocol))
	}
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	driverFactories[protocol] = factory
}

// CreateDriver creates a driver instance for target
func CreateDriver(ctx context.Context, target *Target) (FileSystem, error) {
	factoryMutex.RLock()
	factory, exists := driverFactories[target.Protocol]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: driver %s not registered (import github.com/gobeaver/storagekit/driver/...)", ErrConfiguration, target.Protocol)
	}

	return factory(ctx, target)
}
