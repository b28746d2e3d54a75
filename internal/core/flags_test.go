package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExhaustionFlags_JVMTIValues(t *testing.T) {
	assert.Equal(t, ExhaustionFlags(1), OOMErrorImminent)
	assert.Equal(t, ExhaustionFlags(2), HeapExhausted)
	assert.Equal(t, ExhaustionFlags(4), ThreadsExhausted)
}

func TestExhaustionFlags_Has(t *testing.T) {
	f := HeapExhausted | OOMErrorImminent
	assert.True(t, f.Has(HeapExhausted))
	assert.True(t, f.Has(OOMErrorImminent))
	assert.False(t, f.Has(ThreadsExhausted))
	assert.False(t, f.Has(HeapExhausted|ThreadsExhausted))
}

func TestExhaustionFlags_String(t *testing.T) {
	tests := []struct {
		flags ExhaustionFlags
		want  string
	}{
		{0, "none"},
		{HeapExhausted, "heap"},
		{HeapExhausted | OOMErrorImminent, "heap|oom"},
		{ThreadsExhausted | OOMErrorImminent, "threads|oom"},
		{ExhaustionFlags(0x12), "heap|0x10"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.flags.String())
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("heap,oom")
	require.NoError(t, err)
	assert.Equal(t, HeapExhausted|OOMErrorImminent, f)

	f, err = ParseFlags("threads.oom")
	require.NoError(t, err)
	assert.Equal(t, ThreadsExhausted|OOMErrorImminent, f)

	f, err = ParseFlags("HEAP | threads")
	require.NoError(t, err)
	assert.Equal(t, HeapExhausted|ThreadsExhausted, f)

	_, err = ParseFlags("")
	assert.True(t, IsCategory(err, ErrCatParse))

	_, err = ParseFlags("heap,disk")
	assert.True(t, IsCategory(err, ErrCatParse))

	f, err = ParseFlags("heap|0x10")
	require.NoError(t, err)
	assert.Equal(t, ExhaustionFlags(0x12), f)

	_, err = ParseFlags("0xzz")
	assert.True(t, IsCategory(err, ErrCatParse))
}

func TestExhaustionFlags_TextRoundTrip(t *testing.T) {
	var f ExhaustionFlags
	require.NoError(t, f.UnmarshalText([]byte("threads|oom")))
	assert.Equal(t, ThreadsExhausted|OOMErrorImminent, f)

	text, err := f.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "threads|oom", string(text))

	require.NoError(t, f.UnmarshalText([]byte("none")))
	assert.Zero(t, f)

	assert.Error(t, f.UnmarshalText([]byte("disk")))
}

func TestExhaustionFlags_JSONKeepsUnknownBits(t *testing.T) {
	type record struct {
		Flags ExhaustionFlags `json:"flags"`
	}
	in := record{Flags: HeapExhausted | OOMErrorImminent | ExhaustionFlags(0x8)}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"flags":"heap|oom|0x8"}`, string(data))

	var out record
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
