package server

import (
	"reflect"

	"github.com/pkg/errors"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// RegisterReceiver registers every usable exported method of a struct as a
// handler named "Type.Method", so a whole service is exposed in one call:
//
//	type Calc struct{}
//	func (Calc) Add(a, b int) int { return a + b }
//
//	srv.RegisterReceiver(&Calc{})   // callable as "Calc.Add"
//
// A method is usable when it is not variadic and returns nothing, a value,
// an error, or a value and an error. Arguments are converted to the
// parameter types where Go allows it: numeric arguments decoded as float64
// fit int or float parameters, and a nil argument becomes the zero value.
func (s *Server) RegisterReceiver(rcvr interface{}) error {
	if rcvr == nil {
		return errors.New("nil receiver")
	}
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return errors.Errorf("receiver must be a pointer to a struct, got %s", typ)
	}
	name := typ.Elem().Name()
	if name == "" {
		return errors.New("receiver type must be named")
	}

	val := reflect.ValueOf(rcvr)
	registered := 0
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if !usableMethod(m) {
			continue
		}
		if err := s.RegisterName(name+"."+m.Name, makeHandler(val, m)); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return errors.Errorf("type %s has no usable exported methods", name)
	}
	return nil
}

func usableMethod(m reflect.Method) bool {
	t := m.Type
	if t.IsVariadic() {
		return false
	}
	switch t.NumOut() {
	case 0, 1:
		return true
	case 2:
		return t.Out(1) == errType
	default:
		return false
	}
}

// makeHandler binds one reflected method into the Handler signature.
func makeHandler(rcvr reflect.Value, m reflect.Method) Handler {
	t := m.Type
	return func(args ...interface{}) (interface{}, error) {
		want := t.NumIn() - 1 // minus the receiver
		if len(args) != want {
			return nil, errors.Errorf("%s: want %d argument(s), got %d", m.Name, want, len(args))
		}

		in := make([]reflect.Value, 0, t.NumIn())
		in = append(in, rcvr)
		for i, arg := range args {
			v, err := conformArg(arg, t.In(i + 1))
			if err != nil {
				return nil, errors.Wrapf(err, "%s: argument %d", m.Name, i)
			}
			in = append(in, v)
		}

		return splitResults(t, m.Func.Call(in))
	}
}

// conformArg shapes one decoded argument into the parameter type.
func conformArg(arg interface{}, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(want), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want), nil
	}
	return reflect.Value{}, errors.Errorf("cannot use %T as %s", arg, want)
}

// splitResults folds the reflected return values into (result, error).
func splitResults(t reflect.Type, out []reflect.Value) (interface{}, error) {
	switch t.NumOut() {
	case 0:
		return nil, nil
	case 1:
		if t.Out(0) == errType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[1])
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
