package callback

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/danmuck/urbilink/internal/protocol"
)

var (
	ErrNotFunc   = errors.New("callback: not a function")
	ErrArgCount  = errors.New("callback: argument count mismatch")
	ErrArgType   = errors.New("callback: argument type mismatch")
	ErrSignature = errors.New("callback: unsupported handler signature")
)

// Action is what a handler asks the registry to do with its registration.
type Action int

const (
	Continue Action = iota
	Remove
)

func (a Action) String() string {
	if a == Remove {
		return "remove"
	}
	return "continue"
}

// Handler is invoked with each message matching its registration.
type Handler interface {
	Handle(msg protocol.Message) Action
}

type HandlerFunc func(msg protocol.Message) Action

func (f HandlerFunc) Handle(msg protocol.Message) Action {
	return f(msg)
}

// Once wraps fn so its registration is dropped after the first delivery.
func Once(fn func(msg protocol.Message)) Handler {
	return HandlerFunc(func(msg protocol.Message) Action {
		fn(msg)
		return Remove
	})
}

// WithData binds caller data to a handler function.
func WithData[T any](fn func(data T, msg protocol.Message) Action, data T) Handler {
	return HandlerFunc(func(msg protocol.Message) Action {
		return fn(data, msg)
	})
}

var (
	messageType = reflect.TypeOf(protocol.Message{})
	actionType  = reflect.TypeOf(Action(0))
)

// Bind adapts fn with signature func(P1, ..., Pn, protocol.Message) Action
// and the bound values args into a Handler. The signature and every
// argument are checked once, here, rather than on each delivery.
func Bind(fn any, args ...any) (Handler, error) {
	f, err := NewFunc(fn)
	if err != nil {
		return nil, err
	}
	t := f.fn.Type()
	if t.NumIn() == 0 || t.In(t.NumIn()-1) != messageType ||
		t.NumOut() != 1 || t.Out(0) != actionType {
		return nil, fmt.Errorf("%w: %s", ErrSignature, t)
	}
	bound, err := f.convert(args, t.NumIn()-1)
	if err != nil {
		return nil, err
	}
	return HandlerFunc(func(msg protocol.Message) Action {
		in := make([]reflect.Value, 0, len(bound)+1)
		in = append(in, bound...)
		in = append(in, reflect.ValueOf(msg))
		return Action(f.fn.Call(in)[0].Int())
	}), nil
}

// Func is a function called with positional values read from a list.
type Func struct {
	fn reflect.Value
}

func NewFunc(fn any) (*Func, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrNotFunc, fn)
	}
	if v.Type().IsVariadic() {
		return nil, fmt.Errorf("%w: variadic %s", ErrSignature, v.Type())
	}
	return &Func{fn: v}, nil
}

// Arity is the number of parameters the function takes.
func (f *Func) Arity() int {
	return f.fn.Type().NumIn()
}

// Call invokes the function with args after checking count and types.
func (f *Func) Call(args []any) ([]any, error) {
	in, err := f.convert(args, f.Arity())
	if err != nil {
		return nil, err
	}
	out := f.fn.Call(in)
	res := make([]any, len(out))
	for i, v := range out {
		res[i] = v.Interface()
	}
	return res, nil
}

func (f *Func) convert(args []any, want int) ([]reflect.Value, error) {
	if len(args) != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrArgCount, len(args), want)
	}
	t := f.fn.Type()
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		pt := t.In(i)
		if arg == nil {
			switch pt.Kind() {
			case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
				in[i] = reflect.Zero(pt)
				continue
			}
			return nil, fmt.Errorf("%w: arg %d nil for %s", ErrArgType, i, pt)
		}
		v := reflect.ValueOf(arg)
		switch {
		case v.Type().AssignableTo(pt):
			in[i] = v
		case isNumeric(v.Kind()) && isNumeric(pt.Kind()):
			in[i] = v.Convert(pt)
		default:
			return nil, fmt.Errorf("%w: arg %d %s for %s", ErrArgType, i, v.Type(), pt)
		}
	}
	return in, nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
