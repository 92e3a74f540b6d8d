package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/bitonic/gpucore"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first that opens wins).
	priority = []string{Native, CPU}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// A factory with the same name is replaced.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a factory. Useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a factory with the given name exists.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens the named device.
func Open(name string) (gpucore.Device, func(), error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrNotAvailable, name)
	}
	dev, closeFn, err := f()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotAvailable, name, err)
	}
	return dev, closeFn, nil
}

// Default opens the best available device. Devices in priority order are
// tried first, then the remaining ones by name. It returns the name of the
// device opened.
func Default() (string, gpucore.Device, func(), error) {
	order := slices.Clone(priority)
	for _, name := range Available() {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}

	var errs []error
	for _, name := range order {
		if !IsRegistered(name) {
			continue
		}
		dev, closeFn, err := Open(name)
		if err == nil {
			return name, dev, closeFn, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", nil, nil, ErrNotAvailable
	}
	return "", nil, nil, errors.Join(errs...)
}
