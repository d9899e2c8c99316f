package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCheckBounds_ScalarDepth tests that scalars are depth 1.
func TestCheckBounds_ScalarDepth(t *testing.T) {
	for _, v := range []Value{Null{}, Bool(true), Int(42), Float(1.5), String("x"), Vec3{1, 2, 3}} {
		assert.NoError(t, CheckBounds(v, Bounds{MaxDepth: 1, MaxElems: 1}))
	}
}

// TestCheckBounds_DepthExceeded tests rejection of deeply nested payloads.
func TestCheckBounds_DepthExceeded(t *testing.T) {
	// Nest 70 levels deep - past the default limit of 64.
	var v Value = Int(1)
	for i := 0; i < 70; i++ {
		v = Array{v}
	}

	err := CheckBounds(v, DefaultBounds)
	require.Error(t, err)

	var be *BoundsError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, DefaultBounds.MaxDepth, be.Bounds.MaxDepth)
}

// TestCheckBounds_WithinDepth tests acceptance at exactly the limit.
func TestCheckBounds_WithinDepth(t *testing.T) {
	var v Value = Int(1)
	for i := 0; i < 63; i++ {
		v = Array{v}
	}
	assert.NoError(t, CheckBounds(v, DefaultBounds))
}

// TestCheckBounds_ElemsExceeded tests rejection of oversized collections.
func TestCheckBounds_ElemsExceeded(t *testing.T) {
	arr := make(Array, 11)
	for i := range arr {
		arr[i] = Int(int64(i))
	}

	err := CheckBounds(arr, Bounds{MaxDepth: 8, MaxElems: 10})
	require.Error(t, err)

	var be *BoundsError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 11, be.Elems)
}

// TestCheckBounds_NestedObject tests that nested objects are walked.
func TestCheckBounds_NestedObject(t *testing.T) {
	v := Object{
		"a": Object{
			"b": Array{Int(1), Int(2), Int(3)},
		},
	}
	err := CheckBounds(v, Bounds{MaxDepth: 8, MaxElems: 2})
	require.Error(t, err, "inner array has 3 elements, limit 2")
}

// TestClone_Independence tests that mutating a clone leaves the source intact.
func TestClone_Independence(t *testing.T) {
	src := Object{
		"pos":  Vec3{1, 2, 3},
		"tags": Array{String("a"), String("b")},
		"meta": Object{"hp": Int(100)},
	}

	dst := Clone(src).(Object)
	dst["meta"].(Object)["hp"] = Int(0)
	dst["tags"].(Array)[0] = String("z")

	assert.Equal(t, Int(100), src["meta"].(Object)["hp"])
	assert.Equal(t, String("a"), src["tags"].(Array)[0])
}

// TestEqual tests structural equality across the union.
func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null_null", Null{}, Null{}, true},
		{"null_bool", Null{}, Bool(false), false},
		{"int_int", Int(5), Int(5), true},
		{"int_float", Int(5), Float(5), false},
		{"float_nan", Float(math.NaN()), Float(math.NaN()), true},
		{"vec3_equal", Vec3{1, 2, 3}, Vec3{1, 2, 3}, true},
		{"vec3_diff", Vec3{1, 2, 3}, Vec3{1, 2, 4}, false},
		{"array_equal", Array{Int(1), String("x")}, Array{Int(1), String("x")}, true},
		{"array_len", Array{Int(1)}, Array{Int(1), Int(2)}, false},
		{"object_equal", Object{"a": Int(1)}, Object{"a": Int(1)}, true},
		{"object_missing_key", Object{"a": Int(1)}, Object{"b": Int(1)}, false},
		{"nested", Object{"a": Array{Object{"b": Vec3{0, 0, 1}}}}, Object{"a": Array{Object{"b": Vec3{0, 0, 1}}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

// TestByteSize tests deterministic payload accounting.
func TestByteSize(t *testing.T) {
	assert.Equal(t, 1, ByteSize(Null{}))
	assert.Equal(t, 8, ByteSize(Int(9)))
	assert.Equal(t, 24, ByteSize(Vec3{}))
	assert.Equal(t, 16+5, ByteSize(String("hello")))

	obj := Object{"hp": Int(10)}
	assert.Equal(t, 48+16+2+8, ByteSize(obj))
}

// TestMarshalValue_RoundTrip tests the persistence codec preserves the union.
func TestMarshalValue_RoundTrip(t *testing.T) {
	src := Object{
		"null":  Null{},
		"bool":  Bool(true),
		"int":   Int(-7),
		"float": Float(1.0), // Whole float must stay Float
		"str":   String("héllo"),
		"vec":   Vec3{0.5, -1, 2},
		"arr":   Array{Int(1), Float(2.5), String("x")},
		"obj":   Object{"inner": Vec3{9, 8, 7}},
	}

	data, err := MarshalValue(src)
	require.NoError(t, err)

	back, err := UnmarshalValue(data)
	require.NoError(t, err)
	assert.True(t, Equal(src, back), "round-trip changed the value: %s", data)
}

// TestMarshalValue_NonFiniteFloat tests rejection of NaN/Inf.
func TestMarshalValue_NonFiniteFloat(t *testing.T) {
	_, err := MarshalValue(Float(math.NaN()))
	require.Error(t, err)
	_, err = MarshalValue(Vec3{math.Inf(1), 0, 0})
	require.Error(t, err)
}

// TestFromGo_Numbers tests Int/Float discrimination by lexical form.
func TestFromGo_Numbers(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"a": 3, "b": 3.0, "c": 3e2}`))
	require.NoError(t, err)

	obj := v.(Object)
	assert.IsType(t, Int(0), obj["a"])
	assert.IsType(t, Float(0), obj["b"])
	assert.IsType(t, Float(0), obj["c"])
}

// TestFromGo_Vec3Wrapper tests the tagged Vec3 encoding is recognized.
func TestFromGo_Vec3Wrapper(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"$v3":[1,2.5,3]}`))
	require.NoError(t, err)
	assert.Equal(t, Vec3{1, 2.5, 3}, v)
}
