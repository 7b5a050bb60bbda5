package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

const sample = `{"id":7,"name":"square","color":"BLUE","size":30.5,"active":true,"pos":{"x":10,"y":-2},"tags":["a","b"]}`

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr   string
		params []string
		want   bool
	}{
		{"", nil, true},
		{"id = 7", nil, true},
		{"id <> 7", nil, false},
		{"id != 8", nil, true},
		{"size > 30 AND size < 31", nil, true},
		{"size >= 30.5 AND size <= 30.5", nil, true},
		{"color = 'BLUE'", nil, true},
		{"color = 'RED' OR color = 'BLUE'", nil, true},
		{"NOT color = 'RED'", nil, true},
		{"NOT (color = 'RED' OR id = 7)", nil, false},
		{"pos.x = 10 AND pos.y < 0", nil, true},
		{"tags.1 = 'b'", nil, true},
		{"active = TRUE", nil, true},
		{"active = FALSE", nil, false},
		{"name LIKE 'squ%'", nil, true},
		{"name LIKE 's_uare'", nil, true},
		{"name LIKE 'sq'", nil, false},
		{"name NOT LIKE 'c%'", nil, true},
		{"id BETWEEN 5 AND 9", nil, true},
		{"id NOT BETWEEN 5 AND 9", nil, false},
		{"id BETWEEN %0 AND %1", []string{"1", "6"}, false},
		{"color = %0", []string{"'BLUE'"}, true},
		{"color = %0", []string{"BLUE"}, true},
		{"id > %0", []string{"6.5"}, true},
		{"missing = 1", nil, false},
		{"missing = 1 OR id = 7", nil, true},
		{"NOT missing = 1", nil, true},
		{"TRUE", nil, true},
		{"FALSE OR id = 7", nil, true},
		{"id = 0x7", nil, true},
		{"'square' = name", nil, true},
		{"color = 'it''s'", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			x, err := Compile(tt.expr)
			require.NoError(t, err)
			got, err := x.Evaluate([]byte(sample), tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		"id =",
		"id 7",
		"(id = 7",
		"id = 7)",
		"color = 'open",
		"id = %",
		"id = %100",
		"id BETWEEN 1 OR 2",
		"id ! 3",
		"id = 7 AND",
		"# = 1",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Compile(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrBadParameter)
		})
	}
}

func TestParams(t *testing.T) {
	x, err := Compile("id = %0 OR name = %2")
	require.NoError(t, err)
	assert.Equal(t, 2, x.MaxParam())
	assert.Equal(t, []string{"id", "name"}, x.Fields())

	assert.ErrorIs(t, x.CheckParams([]string{"1", "2"}), errors.ErrBadParameter)
	assert.NoError(t, x.CheckParams([]string{"1", "2", "'x'"}))

	_, err = x.Evaluate([]byte(sample), []string{"7"})
	assert.ErrorIs(t, err, errors.ErrBadParameter)

	none, err := Compile("id = 1")
	require.NoError(t, err)
	assert.Equal(t, -1, none.MaxParam())
}

func TestEvaluateInvalidSample(t *testing.T) {
	x, err := Compile("id = 1")
	require.NoError(t, err)
	_, err = x.Evaluate([]byte("{not json"), nil)
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestCache(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)
	defer c.Close()

	a, err := c.Compile("id = 1")
	require.NoError(t, err)
	b, err := c.Compile("id = 1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int64(1), c.Stats().Hits)

	_, err = c.Compile("id =")
	assert.Error(t, err)

	empty, err := c.Compile("")
	require.NoError(t, err)
	ok, err := empty.Evaluate([]byte(`{}`), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
