package convcache

import (
	"errors"
	"testing"

	"github.com/jmgilman/go/convcache/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	hash string
	err  error
}

func (s staticSource) Hash() (string, error) {
	return s.hash, s.err
}

func blobWithHash(hash string) *bundle.Bundle {
	blob := bundle.NewBlob([]byte("source"), "source.docx")
	blob.Digest = hash
	return bundle.New(blob)
}

func TestComputeKey(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		params := ParametersFromMap(map[string]any{"setMimeType": true})

		first, err := ComputeKey("dummyPdf", blobWithHash("abc123"), params)
		require.NoError(t, err)
		second, err := ComputeKey("dummyPdf", blobWithHash("abc123"), params)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, "dummyPdf:abc123:setMimeType:true", first)
	})

	t.Run("without parameters", func(t *testing.T) {
		key, err := ComputeKey("html", staticSource{hash: "ff00"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "html:ff00", key)
	})

	t.Run("parameter order matters", func(t *testing.T) {
		ab, err := ComputeKey("c", staticSource{hash: "h"}, Parameters{{"a", 1}, {"b", 2}})
		require.NoError(t, err)
		ba, err := ComputeKey("c", staticSource{hash: "h"}, Parameters{{"b", 2}, {"a", 1}})
		require.NoError(t, err)

		assert.Equal(t, "c:h:a:1:b:2", ab)
		assert.NotEqual(t, ab, ba)
	})

	t.Run("different content gives different keys", func(t *testing.T) {
		first, err := ComputeKey("c", bundle.New(bundle.NewBlob([]byte("one"), "a.txt")), nil)
		require.NoError(t, err)
		second, err := ComputeKey("c", bundle.New(bundle.NewBlob([]byte("two"), "a.txt")), nil)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("does not mutate parameters", func(t *testing.T) {
		params := Parameters{{"dpi", 300}}
		_, err := ComputeKey("c", staticSource{hash: "h"}, params)
		require.NoError(t, err)
		assert.Equal(t, Parameters{{"dpi", 300}}, params)
	})
}

func TestComputeKey_Errors(t *testing.T) {
	tests := []struct {
		name      string
		converter string
		source    Source
		params    Parameters
		wantErr   error
	}{
		{name: "empty converter name", converter: "", source: staticSource{hash: "h"}, wantErr: ErrInvalidKeyInput},
		{name: "nil source", converter: "c", source: nil, wantErr: ErrHashUnavailable},
		{name: "hash error", converter: "c", source: staticSource{err: errors.New("unreadable")}, wantErr: ErrHashUnavailable},
		{name: "empty hash", converter: "c", source: staticSource{}, wantErr: ErrHashUnavailable},
		{name: "empty bundle", converter: "c", source: bundle.New(), wantErr: ErrHashUnavailable},
		{name: "empty parameter name", converter: "c", source: staticSource{hash: "h"}, params: Parameters{{"", 1}}, wantErr: ErrInvalidKeyInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ComputeKey(tt.converter, tt.source, tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, key)
		})
	}
}

func TestComputeKey_HashErrorKeepsCause(t *testing.T) {
	cause := errors.New("unreadable")
	_, err := ComputeKey("c", staticSource{err: cause}, nil)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrHashUnavailable)
}

func TestParameters(t *testing.T) {
	t.Run("from map is sorted by name", func(t *testing.T) {
		params := ParametersFromMap(map[string]any{"z": 1, "a": "x", "m": true})
		assert.Equal(t, Parameters{{"a", "x"}, {"m", true}, {"z", 1}}, params)
	})

	t.Run("with replaces in place", func(t *testing.T) {
		orig := Parameters{{"a", 1}, {"b", 2}}
		updated := orig.With("a", 5)

		assert.Equal(t, Parameters{{"a", 5}, {"b", 2}}, updated)
		assert.Equal(t, Parameters{{"a", 1}, {"b", 2}}, orig)
	})

	t.Run("with appends new names", func(t *testing.T) {
		updated := Parameters{{"a", 1}}.With("b", 2)
		assert.Equal(t, Parameters{{"a", 1}, {"b", 2}}, updated)
	})

	t.Run("get", func(t *testing.T) {
		params := Parameters{{"a", 1}}

		v, ok := params.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)

		_, ok = params.Get("b")
		assert.False(t, ok)
	})
}
