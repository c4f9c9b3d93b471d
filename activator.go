// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"fmt"
	"sync"
)

// JobActivator materializes an instance of a target type so a JobInvoker
// can call a method on it. Implementations may back onto a DI container;
// the default, DefaultActivator, constructs by public default
// constructor (a registered zero-arg factory function), generalizing the
// teacher's topic->Processor map (manager.go's tm field) from "one
// function per topic" to "one constructor per target type".
type JobActivator interface {
	Activate(ctx context.Context, targetType string) (interface{}, error)
}

// DefaultActivator is the activator used when no JobActivator is
// supplied to New. Register target types with RegisterType before
// jobs naming them are dispatched.
type DefaultActivator struct {
	mu        sync.RWMutex
	factories map[string]func() interface{}
}

// NewDefaultActivator creates an empty DefaultActivator. Use RegisterType
// to teach it about target types.
func NewDefaultActivator() *DefaultActivator {
	return &DefaultActivator{factories: make(map[string]func() interface{})}
}

// RegisterType associates a target type name with a factory function.
// Registering the same name twice overwrites the previous factory.
func (a *DefaultActivator) RegisterType(targetType string, factory func() interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.factories[targetType] = factory
}

// Activate implements JobActivator.
func (a *DefaultActivator) Activate(_ context.Context, targetType string) (interface{}, error) {
	a.mu.RLock()
	factory, found := a.factories[targetType]
	a.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("jobserver: no activator registered for target type %q", targetType)
	}
	instance := factory()
	if instance == nil {
		return nil, fmt.Errorf("jobserver: factory for target type %q returned nil", targetType)
	}
	return instance, nil
}
