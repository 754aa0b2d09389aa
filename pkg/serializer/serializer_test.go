package serializer

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_Call(t *testing.T) {
	ser := JSON{}

	wire, err := ser.SerializeCall(7, "f", []json.RawMessage{
		json.RawMessage(`1`),
		json.RawMessage(`2`),
	})
	require.NoError(t, err)

	msg := ser.Parse(wire)
	call, ok := msg.(*FunctionCall)
	require.True(t, ok, "expected a function call, got %T", msg)

	assert.Equal(t, uint64(7), call.ID)
	assert.Equal(t, "f", call.Name)
	require.Len(t, call.Params, 2)
	assert.JSONEq(t, `1`, string(call.Params[0]))
	assert.JSONEq(t, `2`, string(call.Params[1]))
}

func TestRoundTrip_Result(t *testing.T) {
	ser := JSON{}

	wire, err := ser.SerializeResult(3, json.RawMessage(`{"ok":true}`), nil)
	require.NoError(t, err)

	res, ok := ser.Parse(wire).(*CallResult)
	require.True(t, ok)

	assert.Equal(t, uint64(3), res.ID)
	assert.JSONEq(t, `{"ok":true}`, string(res.Result))
	assert.Empty(t, res.Error)
}

func TestRoundTrip_ErrorResult(t *testing.T) {
	ser := JSON{}

	wire, err := ser.SerializeResult(4, nil, errors.New("kaput"))
	require.NoError(t, err)

	res, ok := ser.Parse(wire).(*CallResult)
	require.True(t, ok)

	assert.Equal(t, uint64(4), res.ID)
	assert.Equal(t, "kaput", res.Error)
	assert.Empty(t, res.Result)
}

func TestParse_UnrecognizedInput(t *testing.T) {
	ser := JSON{}

	for _, wire := range []string{
		"",
		"not json at all",
		`"just a string"`,
		`42`,
		`{"type":"navigation","url":"https://example.org"}`, // foreign traffic
		`{"tether:call":true}`,                              // call without a name
		`[1,2,3]`,
	} {
		assert.Nil(t, ser.Parse(wire), "input %q must be unrecognized", wire)
	}
}

func TestParse_CallWithoutParams(t *testing.T) {
	ser := JSON{}

	call, ok := ser.Parse(`{"tether:call":true,"id":1,"name":"ping"}`).(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "ping", call.Name)
	assert.Empty(t, call.Params)
}

func TestSerializeCall_NilParams(t *testing.T) {
	ser := JSON{}

	wire, err := ser.SerializeCall(1, "f", nil)
	require.NoError(t, err)
	assert.Contains(t, wire, `"params":[]`)
}

func TestDeliverScript_EscapesEnvelope(t *testing.T) {
	ser := JSON{}

	wire, err := ser.SerializeCall(1, `na"me`, nil)
	require.NoError(t, err)

	script, err := ser.DeliverScript(wire)
	require.NoError(t, err)

	assert.Contains(t, script, "window.tether.deliver(")
	// The envelope must survive as a JS string literal: unmarshalling
	// the quoted part yields the original wire string.
	var embedded string
	payload := script[len("window.tether.deliver(") : len(script)-len(");")]
	require.NoError(t, json.Unmarshal([]byte(payload), &embedded))
	assert.Equal(t, wire, embedded)
}

func TestScript_DefinesGlue(t *testing.T) {
	ser := JSON{}
	script := ser.Script()

	assert.Contains(t, script, "window.tether")
	assert.Contains(t, script, "window.__tether_send")
	assert.Contains(t, script, ser.JSSerializer())
	assert.Contains(t, script, "tether:call")
	assert.Contains(t, script, "tether:resolve")
}

func TestValue_EncodeDecode(t *testing.T) {
	v := List(Number(1), String("two"), Bool(true), Null())

	raw, err := v.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `[1,"two",true,null]`, string(raw))

	back, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindList, back.Kind)
	require.Len(t, back.List, 4)
	assert.Equal(t, KindNumber, back.List[0].Kind)
	assert.Equal(t, float64(1), back.List[0].Number)
	assert.Equal(t, "two", back.List[1].Str)
	assert.True(t, back.List[2].Bool)
	assert.Equal(t, KindNull, back.List[3].Kind)
}

func TestValue_DecodeObject(t *testing.T) {
	back, err := Decode(json.RawMessage(`{"a":1,"b":"x"}`))
	require.NoError(t, err)
	require.Equal(t, KindObject, back.Kind)
	assert.Equal(t, float64(1), back.Object["a"].Number)
	assert.Equal(t, "x", back.Object["b"].Str)
}

func TestValue_DecodeEmpty(t *testing.T) {
	v, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, KindNull, v.Kind)
}
