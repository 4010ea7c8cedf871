package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

var (
	ErrNoBinding        = errors.New("no dispatch binding for message type")
	ErrDuplicateBinding = errors.New("dispatch binding already exists")
	ErrInvalidBinding   = errors.New("invalid dispatch binding")
)

// Binding produces an R from a message of one concrete type.
type Binding[R any] func(msg protocol.Message) (R, error)

var errorType = reflect.TypeFor[error]()

// Table is a map from concrete message type to Binding, filled from the marks
// of one Catalog category. The catalog is scanned exactly once, on the first
// Scan or Dispatch. Tables are used from a single tick goroutine after that.
type Table[R any] struct {
	category string
	types    *protocol.Registry
	catalog  *Catalog
	logger   log.Log

	once     sync.Once
	bindings map[reflect.Type]Binding[R]
}

func NewTable[R any](category string, types *protocol.Registry, catalog *Catalog, logger log.Log) *Table[R] {
	if catalog == nil {
		catalog = Default
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Table[R]{
		category: category,
		types:    types,
		catalog:  catalog,
		logger:   logger.With(log.String("component", "dispatch"), log.String("category", category)),
		bindings: make(map[reflect.Type]Binding[R]),
	}
}

// Scan absorbs the catalog marks if that has not happened yet and returns the
// number of bindings.
func (t *Table[R]) Scan() int {
	t.once.Do(t.scan)
	return len(t.bindings)
}

func (t *Table[R]) scan() {
	want := reflect.TypeFor[R]()
	for _, mark := range t.catalog.Marks(t.category) {
		msgType, binding, err := bindFunc[R](mark.Fn, want, t.types)
		if err != nil {
			t.logger.Warn("Skipping malformed dispatch mark",
				log.String("owner", mark.Owner),
				log.Error(err))
			continue
		}
		if _, exists := t.bindings[msgType]; exists {
			t.logger.Warn("Skipping duplicate dispatch mark",
				log.String("owner", mark.Owner),
				log.String("message", msgType.String()))
			continue
		}
		t.bindings[msgType] = binding
	}
	t.logger.Debug("Dispatch table scanned", log.Int("bindings", len(t.bindings)))
}

// RegisterMethod binds a concrete message type explicitly. Explicit bindings
// win over marks found by a later scan.
func (t *Table[R]) RegisterMethod(msgType reflect.Type, binding Binding[R]) error {
	if binding == nil {
		return fmt.Errorf("%w: nil binding for %s", ErrInvalidBinding, msgType)
	}
	if _, exists := t.bindings[msgType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBinding, msgType)
	}
	t.bindings[msgType] = binding
	return nil
}

// Bind registers a typed function for M.
func Bind[M protocol.Message, R any](t *Table[R], fn func(M) (R, error)) error {
	return t.RegisterMethod(reflect.TypeFor[M](), func(msg protocol.Message) (R, error) {
		return fn(msg.(M))
	})
}

// Has reports whether msgType has a binding. It triggers the scan.
func (t *Table[R]) Has(msgType reflect.Type) bool {
	t.Scan()
	_, ok := t.bindings[msgType]
	return ok
}

// Dispatch runs the binding of msg's concrete type. A missing binding is a
// programming error: it is logged at error level and returned as ErrNoBinding.
func (t *Table[R]) Dispatch(msg protocol.Message) (result R, err error) {
	t.Scan()

	msgType := reflect.TypeOf(msg)
	binding, ok := t.bindings[msgType]
	if !ok {
		t.logger.Error("No dispatch binding", log.String("message", fmt.Sprint(msgType)))
		return result, fmt.Errorf("%w: %v in category %q", ErrNoBinding, msgType, t.category)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch %v panicked: %v", msgType, r)
		}
	}()
	return binding(msg)
}

// bindFunc validates fn as func(M) R or func(M) (R, error) with M a
// registered concrete message type.
func bindFunc[R any](fn any, want reflect.Type, types *protocol.Registry) (reflect.Type, Binding[R], error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, nil, fmt.Errorf("%w: %T is not a function", ErrInvalidBinding, fn)
	}
	ft := v.Type()
	if ft.NumIn() != 1 || ft.IsVariadic() {
		return nil, nil, fmt.Errorf("%w: %s must take exactly one message", ErrInvalidBinding, ft)
	}
	msgType := ft.In(0)
	if msgType.Kind() == reflect.Interface {
		return nil, nil, fmt.Errorf("%w: %s takes an interface, bindings need a concrete type", ErrInvalidBinding, ft)
	}
	if types != nil && !types.Contains(msgType) {
		return nil, nil, fmt.Errorf("%w: %s is not a registered message type", ErrInvalidBinding, msgType)
	}

	switch {
	case ft.NumOut() == 1 && ft.Out(0).AssignableTo(want):
	case ft.NumOut() == 2 && ft.Out(0).AssignableTo(want) && ft.Out(1) == errorType:
	default:
		return nil, nil, fmt.Errorf("%w: %s must return %s or (%s, error)", ErrInvalidBinding, ft, want, want)
	}

	binding := func(msg protocol.Message) (R, error) {
		out := v.Call([]reflect.Value{reflect.ValueOf(msg)})
		var result R
		if res := out[0]; res.IsValid() {
			result, _ = res.Interface().(R)
		}
		if len(out) == 2 && !out[1].IsNil() {
			return result, out[1].Interface().(error)
		}
		return result, nil
	}
	return msgType, binding, nil
}
