// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// JobInvoker calls method on instance, having deserialized args according
// to the method's declared parameter types. Errors returned by the
// target method must be surfaced unchanged to the worker; JobInvoker
// itself should only ever return an error about being unable to invoke
// (wrong method name, arity mismatch, bad argument encoding).
type JobInvoker interface {
	Invoke(ctx context.Context, instance interface{}, method string, args []json.RawMessage) error
}

// DefaultInvoker calls methods by reflection. It supports methods of the
// form func(args...) error and func(ctx context.Context, args...) error;
// the latter is given the worker's context so long-running jobs can
// observe cancellation.
type DefaultInvoker struct{}

// NewDefaultInvoker creates a DefaultInvoker.
func NewDefaultInvoker() DefaultInvoker { return DefaultInvoker{} }

// Invoke implements JobInvoker.
func (DefaultInvoker) Invoke(ctx context.Context, instance interface{}, method string, args []json.RawMessage) error {
	v := reflect.ValueOf(instance)
	m := v.MethodByName(method)
	if !m.IsValid() {
		return fmt.Errorf("jobserver: target type %T has no method %q", instance, method)
	}
	mt := m.Type()

	wantsCtx := mt.NumIn() > 0 && mt.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem()
	paramOffset := 0
	if wantsCtx {
		paramOffset = 1
	}
	if got, want := len(args), mt.NumIn()-paramOffset; got != want {
		return fmt.Errorf("jobserver: method %q takes %d argument(s), job has %d", method, want, got)
	}
	if mt.NumOut() != 1 || mt.Out(0) != reflect.TypeOf((*error)(nil)).Elem() {
		return fmt.Errorf("jobserver: method %q must return exactly one error value", method)
	}

	in := make([]reflect.Value, 0, mt.NumIn())
	if wantsCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, raw := range args {
		paramType := mt.In(i + paramOffset)
		argPtr := reflect.New(paramType)
		if err := json.Unmarshal(raw, argPtr.Interface()); err != nil {
			return fmt.Errorf("jobserver: decoding argument %d for method %q: %w", i, method, err)
		}
		in = append(in, argPtr.Elem())
	}

	out := m.Call(in)
	if errVal := out[0]; !errVal.IsNil() {
		return errVal.Interface().(error)
	}
	return nil
}
