// Package handler routes decoded messages to the callbacks registered for
// their concrete type.
package handler

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// Callback handles one message from sender.
type Callback func(sender protocol.PeerID, msg protocol.Message) error

type binding struct {
	owner string
	fn    Callback
}

// Registry maps concrete message types to ordered callbacks.
//
// A callback registered for M covers every registered type assignable to M,
// so one Add for an interface reaches all its implementations. The covered
// set of each M is computed once and cached.
//
// Registration happens at construction; Handle runs on the tick goroutine.
// Registry is not safe for concurrent mutation.
type Registry struct {
	types     *protocol.Registry
	callbacks map[reflect.Type][]binding
	covers    map[reflect.Type][]reflect.Type
	logger    log.Log
}

func New(types *protocol.Registry, logger log.Log) *Registry {
	if logger == nil {
		logger = log.Provide()
	}
	return &Registry{
		types:     types,
		callbacks: make(map[reflect.Type][]binding),
		covers:    make(map[reflect.Type][]reflect.Type),
		logger:    logger.With(log.String("component", "handler")),
	}
}

// Add registers fn for every message type assignable to M.
func Add[M any](r *Registry, fn func(sender protocol.PeerID, msg M) error) {
	target := reflect.TypeFor[M]()
	r.add(target, "handler for "+target.String(), func(sender protocol.PeerID, msg protocol.Message) error {
		return fn(sender, msg.(M))
	})
}

func (r *Registry) add(target reflect.Type, owner string, fn Callback) int {
	covered := r.covered(target)
	for _, t := range covered {
		r.callbacks[t] = append(r.callbacks[t], binding{owner: owner, fn: fn})
	}
	if len(covered) == 0 {
		r.logger.Warn("Handler covers no registered message type", log.String("target", target.String()))
	}
	return len(covered)
}

// covered returns the registered concrete types assignable to target.
func (r *Registry) covered(target reflect.Type) []reflect.Type {
	if cached, ok := r.covers[target]; ok {
		return cached
	}
	var out []reflect.Type
	for _, t := range r.types.Types() {
		if t == target || (target.Kind() == reflect.Interface && t.Implements(target)) {
			out = append(out, t)
		}
	}
	r.covers[target] = out
	return out
}

// CanHandle reports whether at least one callback covers t.
func (r *Registry) CanHandle(t reflect.Type) bool {
	return len(r.callbacks[t]) > 0
}

// Len returns the number of concrete types with at least one callback.
func (r *Registry) Len() int {
	return len(r.callbacks)
}

// Handle invokes every callback for msg's concrete type in registration
// order. Types without callbacks are ignored. A failing or panicking callback
// does not stop the others; all failures are joined into the result.
func (r *Registry) Handle(sender protocol.PeerID, msg protocol.Message) error {
	bindings := r.callbacks[reflect.TypeOf(msg)]
	if len(bindings) == 0 {
		return nil
	}

	var errs []error
	for _, b := range bindings {
		if err := invoke(b, sender, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s from %s: %w", b.owner, sender, err))
		}
	}
	return errors.Join(errs...)
}

func invoke(b binding, sender protocol.PeerID, msg protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return b.fn(sender, msg)
}

// Clear drops every callback. Calling it again is harmless.
func (r *Registry) Clear() {
	clear(r.callbacks)
}

var (
	peerIDType  = reflect.TypeFor[protocol.PeerID]()
	messageType = reflect.TypeFor[protocol.Message]()
)

// Scan registers the catalog marks of category. Marks must look like
// func(protocol.PeerID, M) error or func(protocol.PeerID, M); anything else is
// logged and skipped. It returns the number of marks accepted.
func (r *Registry) Scan(catalog *dispatch.Catalog, category string) int {
	if catalog == nil {
		catalog = dispatch.Default
	}
	accepted := 0
	for _, mark := range catalog.Marks(category) {
		target, fn, err := callbackOf(mark.Fn)
		if err != nil {
			r.logger.Warn("Skipping malformed handler mark",
				log.String("owner", mark.Owner),
				log.Error(err))
			continue
		}
		if r.add(target, mark.Owner, fn) > 0 {
			accepted++
		}
	}
	return accepted
}

func callbackOf(fn any) (reflect.Type, Callback, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, nil, fmt.Errorf("%T is not a function", fn)
	}
	ft := v.Type()
	if ft.NumIn() != 2 || ft.IsVariadic() || ft.In(0) != peerIDType {
		return nil, nil, fmt.Errorf("%s must take (protocol.PeerID, message)", ft)
	}
	target := ft.In(1)
	if target.Kind() != reflect.Interface && !target.Implements(messageType) {
		return nil, nil, fmt.Errorf("%s is not a message type", target)
	}
	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == reflect.TypeFor[error]():
	default:
		return nil, nil, fmt.Errorf("%s must return nothing or error", ft)
	}

	cb := func(sender protocol.PeerID, msg protocol.Message) error {
		out := v.Call([]reflect.Value{reflect.ValueOf(sender), reflect.ValueOf(msg)})
		if len(out) == 1 && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}
	return target, cb, nil
}
