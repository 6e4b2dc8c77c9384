package platform

import (
	"fmt"
	"sort"
	"sync"
)

// NotFoundError is returned by Lookup for an unregistered name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("platform: %q not registered", e.Name)
}

var (
	registryMu sync.RWMutex
	platforms  = make(map[string]*Platform)
)

// Register makes p available by its name. It is typically called from
// init, following the database/sql driver pattern.
//
// Register panics if p is nil, a platform with the same name is already
// registered, or p fails Validate. A broken table is a build-time
// configuration error and must not reach a running display.
func Register(p *Platform) {
	if p == nil {
		panic("platform: Register platform is nil")
	}
	if err := p.Validate(); err != nil {
		panic(err.Error())
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := platforms[p.Name]; dup {
		panic("platform: Register called twice for " + p.Name)
	}
	platforms[p.Name] = p
}

// Unregister removes a platform. It exists for tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(platforms, name)
}

// Lookup returns the platform registered as name.
func Lookup(name string) (*Platform, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := platforms[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return p, nil
}

// Names returns the registered platform names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
