package miraerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/miraerr"
)

func TestNewWrapsOpKindErr(t *testing.T) {
	underlying := errors.New("boom")
	err := miraerr.New("store.Insert", miraerr.Conflict, underlying)

	require.Error(t, err)
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "store.Insert")
	assert.Contains(t, err.Error(), "conflict")
	assert.Contains(t, err.Error(), "boom")
}

func TestNewNilErr(t *testing.T) {
	err := miraerr.New("store.Insert", miraerr.NotFound, nil)
	assert.Equal(t, "store.Insert: not_found", err.Error())
}

func TestIs(t *testing.T) {
	err := miraerr.New("op", miraerr.QuotaExceeded, nil)
	assert.True(t, miraerr.Is(err, miraerr.QuotaExceeded))
	assert.False(t, miraerr.Is(err, miraerr.Validation))
	assert.False(t, miraerr.Is(errors.New("plain"), miraerr.QuotaExceeded))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, miraerr.Timeout, miraerr.KindOf(miraerr.New("op", miraerr.Timeout, nil)))
	assert.Equal(t, miraerr.Fatal, miraerr.KindOf(errors.New("untagged")))
	assert.Equal(t, miraerr.Kind(""), miraerr.KindOf(nil))
}

func TestRecoverable(t *testing.T) {
	cases := map[miraerr.Kind]bool{
		miraerr.ProviderUnavailable: true,
		miraerr.Timeout:             true,
		miraerr.Conflict:            true,
		miraerr.Validation:          false,
		miraerr.Fatal:               false,
		miraerr.QuotaExceeded:       false,
		miraerr.NotFound:            false,
		miraerr.Corruption:          false,
	}
	for kind, want := range cases {
		assert.Equal(t, want, miraerr.Recoverable(kind), "kind=%s", kind)
	}
}

func TestUnwrapChain(t *testing.T) {
	root := errors.New("root cause")
	wrapped := miraerr.New("outer", miraerr.Corruption, miraerr.New("inner", miraerr.Corruption, root))
	assert.ErrorIs(t, wrapped, root)
}
