package dds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/rtps"
)

func TestJSONTypeSupportKeys(t *testing.T) {
	ts, err := NewJSONTypeSupport("Reading", WithKeyFields("site", "sensor.id"))
	require.NoError(t, err)
	assert.True(t, ts.HasKey())
	assert.Equal(t, []string{"site", "sensor.id"}, ts.KeyFields())

	a, err := ts.KeyHash([]byte(`{"site":"north","sensor":{"id":3},"v":1}`))
	require.NoError(t, err)
	b, err := ts.KeyHash([]byte(`{"v":2,"sensor":{"id":3},"site":"north"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b, "non-key fields and field order do not change the instance")

	c, err := ts.KeyHash([]byte(`{"site":"south","sensor":{"id":3}}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	kv, err := ts.KeyValue([]byte(`{"site":"north","sensor":{"id":3},"v":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"site":"north","sensor":{"id":3}}`, string(kv))

	_, err = ts.KeyHash([]byte(`{"site":"north"}`))
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestJSONTypeSupportKeyless(t *testing.T) {
	ts, err := NewJSONTypeSupport("Log")
	require.NoError(t, err)
	assert.False(t, ts.HasKey())
	kh, err := ts.KeyHash([]byte(`{"msg":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, rtps.KeyHashNil, kh)
}

func TestJSONTypeSupportValidate(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {"id": {"type": "integer"}, "v": {"type": "number"}},
		"required": ["id", "v"]
	}`
	ts, err := NewJSONTypeSupport("Reading", WithKeyFields("id"), WithSchema(schema))
	require.NoError(t, err)

	assert.NoError(t, ts.Validate([]byte(`{"id":1,"v":2.5}`)))
	assert.ErrorIs(t, ts.Validate([]byte(`{"id":1`)), errors.ErrBadParameter)
	assert.ErrorIs(t, ts.Validate([]byte(`{"v":1}`)), errors.ErrBadParameter)
	assert.ErrorIs(t, ts.Validate([]byte(`{"id":1,"v":"high"}`)), errors.ErrBadParameter)
}

func TestNewJSONTypeSupportRejectsBadInput(t *testing.T) {
	_, err := NewJSONTypeSupport("")
	assert.ErrorIs(t, err, errors.ErrBadParameter)
	_, err = NewJSONTypeSupport("T", WithKeyFields(" "))
	assert.ErrorIs(t, err, errors.ErrBadParameter)
	_, err = NewJSONTypeSupport("T", WithSchema(`{"type": 12}`))
	assert.Error(t, err)
}
