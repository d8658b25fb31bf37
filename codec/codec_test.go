package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njatkinson/callme/protocol"
)

func TestJSONCodec(t *testing.T) {
	c := GetCodec(CodecTypeJSON)
	require.Equal(t, CodecTypeJSON, c.Type())

	req := &protocol.Request{
		Method: "calc.add",
		Args:   []interface{}{float64(1), "two", true},
	}
	data, err := c.Encode(req)
	require.NoError(t, err)

	var got protocol.Request
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, req.Method, got.Method)
	// JSON maps every number to float64, which is the documented contract
	assert.Equal(t, req.Args, got.Args)
}

func TestJSONCodecErrorResponse(t *testing.T) {
	c := &JSONCodec{}

	resp := protocol.NewErrorResponse("handler exploded")
	data, err := c.Encode(resp)
	require.NoError(t, err)

	var got protocol.Response
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, protocol.StatusError, got.Status)
	assert.Equal(t, "handler exploded", got.Error)
	assert.Nil(t, got.Result)
}

func TestGobCodec(t *testing.T) {
	c := GetCodec(CodecTypeGob)
	require.Equal(t, CodecTypeGob, c.Type())

	// basic types inside interface{} need no gob.Register
	req := &protocol.Request{
		Method: "echo",
		Args:   []interface{}{7, "seven", 7.5},
	}
	data, err := c.Encode(req)
	require.NoError(t, err)

	var got protocol.Request
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, "echo", got.Method)
	assert.Equal(t, 7, got.Args[0])
	assert.Equal(t, "seven", got.Args[1])
	assert.Equal(t, 7.5, got.Args[2])
}

func TestGobCodecResponse(t *testing.T) {
	c := &GobCodec{}

	data, err := c.Encode(protocol.NewResponse("done"))
	require.NoError(t, err)

	var got protocol.Response
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, protocol.StatusOK, got.Status)
	assert.Equal(t, "done", got.Result)
}

func TestDecodeGarbage(t *testing.T) {
	var got protocol.Request
	assert.Error(t, (&JSONCodec{}).Decode([]byte("{not json"), &got))
	assert.Error(t, (&GobCodec{}).Decode([]byte{0xff, 0x00, 0x13}, &got))
}
