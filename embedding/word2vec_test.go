package embedding

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWord2Vec_RoundTrip(t *testing.T) {
	words := []string{"king", "queen", "apple"}
	vectors := [][]float32{{1, 2, 3}, {1, 2, 2.5}, {-3, 0, 1}}

	var buf bytes.Buffer
	require.NoError(t, WriteWord2Vec(&buf, words, vectors))

	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	m, err := LoadWord2Vec(path, WithLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, words, m.Vocabulary())
	assert.Equal(t, 3, m.Dimension())
	assert.Contains(t, logs.String(), "model loaded")

	got, err := m.Nearest(context.Background(), "king", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "queen", got[0].Word)
}

func TestParseWord2Vec_WithoutRowNewlines(t *testing.T) {
	data := []byte("2 1\n")
	data = append(data, "a "...)
	data = append(data, 0, 0, 0x80, 0x3f) // 1.0
	data = append(data, "b "...)
	data = append(data, 0, 0, 0x00, 0x40) // 2.0

	m, err := ParseWord2Vec(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Vocabulary())
}

func TestParseWord2Vec_Limit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWord2Vec(&buf, []string{"a", "b", "c"}, [][]float32{{1}, {2}, {3}}))

	m, err := ParseWord2Vec(buf.Bytes(), WithLimit(2), WithFloat16())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Vocabulary())
	assert.True(t, m.HalfPrecision())
}

func TestParseWord2Vec_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"no header":      []byte("2 3"),
		"bad header":     []byte("two 3\n"),
		"zero dimension": []byte("1 0\n"),
		"missing word":   []byte("1 1\n"),
		"truncated":      []byte("1 2\nword \x00\x00\x80\x3f"),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWord2Vec(data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseWord2Vec_HeaderExceedsData(t *testing.T) {
	row := append([]byte("a "), 0, 0, 0x80, 0x3f, 0, 0, 0x80, 0x3f)

	tests := map[string][]byte{
		"max int count":   append([]byte("9223372036854775807 2\n"), row...),
		"overflowing cap": []byte("4611686018427387904 4\n"),
		"plausible count": append([]byte("100000000 300\n"), row...),
		"huge dimension":  append([]byte("1 4611686018427387904\n"), row...),
		"one row short":   append([]byte("2 2\n"), row...),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var m *Memory
			var err error
			require.NotPanics(t, func() { m, err = ParseWord2Vec(data) })
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, m)
		})
	}

	// A limit within the data still loads the available rows.
	m, err := ParseWord2Vec(append([]byte("9223372036854775807 2\n"), row...), WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, m.Vocabulary())
}

func TestLoadWord2Vec_Missing(t *testing.T) {
	_, err := LoadWord2Vec(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteWord2Vec_DimensionMismatch(t *testing.T) {
	err := WriteWord2Vec(&bytes.Buffer{}, []string{"a", "b"}, [][]float32{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
