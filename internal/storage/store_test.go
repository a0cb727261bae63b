package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

func TestSourceKey(t *testing.T) {
	tests := []struct {
		filename string
		suffix   string
	}{
		{"Quarterly Review.pptx", "_Quarterly Review.pptx"},
		{"deck.PPTX", "_deck.pptx"},
		{"../../etc/passwd.pptx", "_passwd.pptx"},
		{"weird/na:me?.pptx", "_na_me_.pptx"},
		{"...pptx", "_upload.pptx"},
		{"a..b.pptx", "_a.b.pptx"},
	}
	hexPrefix := regexp.MustCompile(`^[0-9a-f]{32}_`)
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			key := SourceKey(tt.filename)
			assert.Regexp(t, hexPrefix, key)
			assert.True(t, strings.HasSuffix(key, tt.suffix), key)
			assert.True(t, ValidKey(key), key)
		})
	}
	assert.NotEqual(t, SourceKey("a.pptx"), SourceKey("a.pptx"))
}

func TestResultKey(t *testing.T) {
	assert.Regexp(t, `^[0-9a-f]{32}\.pdf$`, ResultKey())
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"", "../x", "a/b", ".hidden", "a..b", strings.Repeat("a", 256)} {
		assert.False(t, ValidKey(k), k)
	}
	for _, k := range []string{"abc.pdf", "0123_deck name.pptx"} {
		assert.True(t, ValidKey(k), k)
	}
}

func TestFSStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFSStore(dir, "http://localhost:8000/", nil)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "out.pdf", strings.NewReader("%PDF-1.7"), "application/pdf"))

	rc, err := s.Get(ctx, "out.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	u, err := s.URL(ctx, "0a_deck name.pptx")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/files/0a_deck%20name.pptx", u)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")

	require.NoError(t, s.Delete(ctx, "out.pdf"))
	require.NoError(t, s.Delete(ctx, "out.pdf"))
	_, err = s.Get(ctx, "out.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFSStore(filepath.Join(dir, "artifacts"), "http://x", nil)
	require.NoError(t, err)

	err = s.Put(ctx, "../escape.pdf", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = os.Stat(filepath.Join(dir, "escape.pdf"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.Get(ctx, "../artifacts")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestFSStore_PutHonoursCancellation(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "http://x", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Put(ctx, "a.pdf", strings.NewReader("data"), "")
	assert.ErrorIs(t, err, common.ErrStorage)
	_, err = s.Get(context.Background(), "a.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestNew_SelectsDriver(t *testing.T) {
	st, err := New(context.Background(), common.StorageConfig{Driver: "fs", Dir: t.TempDir()}, "http://x", nil)
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, st)

	_, err = New(context.Background(), common.StorageConfig{Driver: "gcs"}, "http://x", nil)
	assert.ErrorIs(t, err, common.ErrConfig)
}
