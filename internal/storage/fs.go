package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

// FSStore keeps artifacts as flat files under one directory. URLs point at the
// API's /files/ route, which serves them back.
type FSStore struct {
	dir       string
	publicURL string
	logger    *slog.Logger
}

func NewFSStore(dir, publicURL string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage dir: %v", common.ErrStorage, err)
	}
	return &FSStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/"), logger: logger}, nil
}

func (s *FSStore) path(key string) string { return filepath.Join(s.dir, key) }

// Put writes r under key atomically: readers never see a partial file.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", common.ErrStorage, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", common.ErrStorage, key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("%w: rename %s: %v", common.ErrStorage, key, err)
	}
	s.logger.Debug("storage.fs.put", "key", key, "bytes", n)
	return nil
}

func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrStorage, key, err)
	}
	return f, nil
}

// Open returns the file for key, for callers that need to seek (range requests).
func (s *FSStore) Open(key string) (*os.File, error) {
	rc, err := s.Get(context.Background(), key)
	if err != nil {
		return nil, err
	}
	return rc.(*os.File), nil
}

func (s *FSStore) URL(_ context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return s.publicURL + "/files/" + url.PathEscape(key), nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %v", common.ErrStorage, key, err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
