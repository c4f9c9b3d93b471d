// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"testing"
)

type widget struct{ Ticks int }

func TestDefaultActivatorActivatesRegisteredType(t *testing.T) {
	a := NewDefaultActivator()
	a.RegisterType("widget", func() interface{} { return &widget{} })

	instance, err := a.Activate(context.Background(), "widget")
	if err != nil {
		t.Fatalf("Activate failed with %v", err)
	}
	if _, ok := instance.(*widget); !ok {
		t.Fatalf("Activate returned %T, want *widget", instance)
	}
}

func TestDefaultActivatorUnregisteredType(t *testing.T) {
	a := NewDefaultActivator()
	if _, err := a.Activate(context.Background(), "unknown"); err == nil {
		t.Fatal("expected Activate to fail for an unregistered target type")
	}
}

func TestDefaultActivatorNilFactoryResult(t *testing.T) {
	a := NewDefaultActivator()
	a.RegisterType("nada", func() interface{} { return nil })
	if _, err := a.Activate(context.Background(), "nada"); err == nil {
		t.Fatal("expected Activate to fail when the factory returns nil")
	}
}
