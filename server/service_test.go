package server

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njatkinson/callme/transport"
)

// arith exercises every method shape RegisterReceiver accepts, plus the
// shapes it must skip.
type arith struct {
	bias int
}

func (a *arith) Add(x, y int) int { return x + y + a.bias }

func (a *arith) Div(x, y float64) (float64, error) {
	if y == 0 {
		return 0, errors.New("division by zero")
	}
	return x / y, nil
}

func (a *arith) Reset() { a.bias = 0 }

func (a *arith) Check(x int) error {
	if x < 0 {
		return errors.New("negative")
	}
	return nil
}

func (a *arith) Sum(xs ...int) int { return 0 } // variadic: skipped

func (a *arith) Multi() (int, int, error) { return 0, 0, nil } // three outputs: skipped

func newReceiverServer(t *testing.T) *Server {
	t.Helper()
	srv := newServer(t, transport.NewMemBus(), "svc")
	require.NoError(t, srv.RegisterReceiver(&arith{bias: 1}))
	return srv
}

func TestRegisterReceiver(t *testing.T) {
	srv := newReceiverServer(t)

	for _, name := range []string{"arith.Add", "arith.Div", "arith.Reset", "arith.Check"} {
		_, ok := srv.handlers[name]
		assert.True(t, ok, name)
	}
	_, ok := srv.handlers["arith.Sum"]
	assert.False(t, ok, "variadic method must be skipped")
	_, ok = srv.handlers["arith.Multi"]
	assert.False(t, ok, "three-output method must be skipped")
}

func TestReceiverArgumentConversion(t *testing.T) {
	srv := newReceiverServer(t)

	// the JSON codec decodes numbers as float64; int parameters still work
	result, err := srv.handlers["arith.Add"](float64(2), float64(3))
	require.NoError(t, err)
	assert.Equal(t, 6, result) // bias 1

	result, err = srv.handlers["arith.Div"](float64(10), float64(4))
	require.NoError(t, err)
	assert.Equal(t, 2.5, result)
}

func TestReceiverErrorReturn(t *testing.T) {
	srv := newReceiverServer(t)

	_, err := srv.handlers["arith.Div"](float64(1), float64(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestReceiverNoReturn(t *testing.T) {
	srv := newReceiverServer(t)

	result, err := srv.handlers["arith.Reset"]()
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestReceiverErrorOnlyReturn(t *testing.T) {
	srv := newReceiverServer(t)

	result, err := srv.handlers["arith.Check"](float64(1))
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = srv.handlers["arith.Check"](float64(-1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestReceiverArgumentMismatch(t *testing.T) {
	srv := newReceiverServer(t)

	_, err := srv.handlers["arith.Add"](float64(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 2 argument(s), got 1")

	_, err = srv.handlers["arith.Add"]("one", "two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot use")
}

func TestReceiverNilArgument(t *testing.T) {
	srv := newReceiverServer(t)

	// nil conforms to the zero value of the parameter type
	result, err := srv.handlers["arith.Add"](nil, float64(5))
	require.NoError(t, err)
	assert.Equal(t, 6, result)
}

func TestRegisterReceiverValidation(t *testing.T) {
	srv := newServer(t, transport.NewMemBus(), "invalid")

	assert.Error(t, srv.RegisterReceiver(nil))
	assert.Error(t, srv.RegisterReceiver(arith{}), "value receiver argument")

	n := 5
	assert.Error(t, srv.RegisterReceiver(&n), "pointer to non-struct")

	type opaque struct{}
	assert.Error(t, srv.RegisterReceiver(&opaque{}), "no usable methods")
}
