package schema

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceUnknownField(t *testing.T) {
	_, err := Coerce("x", 1.0, nil)
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestCoerceFloat(t *testing.T) {
	f := &Field{Type: TypeFloat}

	v, err := Coerce("x", "3.14", f)
	require.NoError(t, err)
	assert.Equal(t, 3.14, v)

	again, err := Coerce("x", v, f)
	require.NoError(t, err)
	assert.Equal(t, v, again)

	v, err = Coerce("x", "  2.5abc", f)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = Coerce("x", 4, f)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	v, err = Coerce("x", "-Infinity", f)
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.(float64), -1))
}

func TestCoerceFloatInvalid(t *testing.T) {
	v, err := Coerce("x", "abc", &Field{Type: TypeFloat, Nullable: true})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Coerce("x", "abc", &Field{Type: TypeFloat})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = Coerce("x", true, &Field{Type: TypeFloat})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = Coerce("x", nil, &Field{Type: TypeFloat})
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestCoerceInteger(t *testing.T) {
	f := &Field{Type: TypeInteger}

	tests := []struct {
		raw  any
		want int
	}{
		{"7", 7},
		{"7.9", 7},
		{"-12px", -12},
		{7.9, 7},
		{-7.9, -7},
		{int64(3), 3},
		{"0x10", 16},
		{" -0XfF ", -255},
		{float64(1 << 62), 1 << 62},
		{float64(1<<62) * 1.5, 3 << 61},
	}
	for _, tt := range tests {
		v, err := Coerce("n", tt.raw, f)
		require.NoError(t, err, "raw %v", tt.raw)
		assert.Equal(t, tt.want, v, "raw %v", tt.raw)
	}

	_, err := Coerce("n", "x7", f)
	require.ErrorIs(t, err, ErrInvalidValue)
	_, err = Coerce("n", "0x", f)
	require.ErrorIs(t, err, ErrInvalidValue)
	_, err = Coerce("n", 1e19, f)
	require.ErrorIs(t, err, ErrInvalidValue)
	_, err = Coerce("n", "0x10000000000000000", f)
	require.ErrorIs(t, err, ErrInvalidValue)

	v, err := Coerce("n", "x7", &Field{Type: TypeInteger, Nullable: true})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCoerceBoolean(t *testing.T) {
	f := &Field{Type: TypeBoolean}

	falsy := []any{nil, false, 0.0, 0, "", math.NaN()}
	for _, raw := range falsy {
		v, err := Coerce("b", raw, f)
		require.NoError(t, err)
		assert.Equal(t, false, v, "raw %v", raw)
	}
	truthy := []any{true, 1.0, -3, "0", "false", []any{}, map[string]any{}}
	for _, raw := range truthy {
		v, err := Coerce("b", raw, f)
		require.NoError(t, err)
		assert.Equal(t, true, v, "raw %v", raw)
	}
}

func TestCoerceString(t *testing.T) {
	f := &Field{Type: TypeString}

	tests := []struct {
		raw  any
		want string
	}{
		{"hello", "hello"},
		{3.0, "3"},
		{0.25, "0.25"},
		{true, "true"},
		{nil, "null"},
		{[]any{1.0, "a"}, `[1,"a"]`},
	}
	for _, tt := range tests {
		v, err := Coerce("s", tt.raw, f)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v)
	}
}

func TestCoerceEnum(t *testing.T) {
	f := &Field{Type: TypeEnum, List: []any{"sine", "square", 3}}

	v, err := Coerce("wave", "square", f)
	require.NoError(t, err)
	assert.Equal(t, "square", v)

	v, err = Coerce("wave", 3.0, f)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = Coerce("wave", "3", f)
	require.ErrorIs(t, err, ErrInvalidValue)

	f.Nullable = true
	v, err = Coerce("wave", "saw", f)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCoerceAnyPassthrough(t *testing.T) {
	raw := map[string]any{"a": 1.0}
	v, err := Coerce("blob", raw, &Field{Type: TypeAny})
	require.NoError(t, err)
	assert.Equal(t, raw, v)

	v, err = Coerce("blob", "x", &Field{Type: "vector"})
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestCoerceErrorMessage(t *testing.T) {
	_, err := Coerce("volume", "loud", &Field{Type: TypeFloat})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidValue, errors.Cause(err))
	assert.Contains(t, err.Error(), `"volume"`)
}
