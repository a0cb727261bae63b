package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
	"github.com/joseph-ayodele/deckconvert/internal/storage"
)

type fakeConverter struct {
	out   []byte
	err   error
	block bool
	calls int
}

func (f *fakeConverter) Name() string { return "fake" }

func (f *fakeConverter) Convert(ctx context.Context, _ string, r io.Reader) ([]byte, error) {
	f.calls++
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.out, f.err
}

type fixture struct {
	repo  repository.ConversionJobRepository
	store *storage.FSStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	db, err := repository.Open(context.Background(), common.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "jobs.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(logger) })
	store, err := storage.NewFSStore(filepath.Join(dir, "artifacts"), "http://localhost:8000", logger)
	require.NoError(t, err)
	return fixture{repo: repository.NewConversionJobRepository(db, logger), store: store}
}

func (f fixture) queued(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	key := storage.SourceKey("deck.pptx")
	require.NoError(t, f.store.Put(ctx, key, strings.NewReader("PK deck"), constants.PresentationMIME))
	job, err := f.repo.Create(ctx, "deck.pptx", key)
	require.NoError(t, err)
	return job.ID
}

func TestProcessor_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.queued(t)
	conv := &fakeConverter{out: []byte("%PDF-1.7")}
	p := NewProcessor(nil, f.repo, f.store, conv)

	require.NoError(t, p.Process(ctx, id))

	job, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, job.Status)
	assert.Regexp(t, `^[0-9a-f]{32}\.pdf$`, job.ResultKey)
	assert.Equal(t, 1, job.Attempts)

	rc, err := f.store.Get(ctx, job.ResultKey)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "%PDF-1.7", string(data))

	// Redelivery of a finished job is a no-op.
	require.NoError(t, p.Process(ctx, id))
	assert.Equal(t, 1, conv.calls)
}

func TestProcessor_ConverterError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.queued(t)
	p := NewProcessor(nil, f.repo, f.store, &fakeConverter{err: errors.New("unoserver returned 500: boom")})

	require.Error(t, p.Process(ctx, id))

	job, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "unoserver returned 500: boom")
}

func TestProcessor_MissingSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job, err := f.repo.Create(ctx, "gone.pptx", "0000_gone.pptx")
	require.NoError(t, err)
	p := NewProcessor(nil, f.repo, f.store, &fakeConverter{out: []byte("%PDF-")})

	err = p.Process(ctx, job.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
}

func TestProcessor_TimeLimit(t *testing.T) {
	f := newFixture(t)
	id := f.queued(t)
	p := NewProcessor(nil, f.repo, f.store, &fakeConverter{block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Process(ctx, id), context.DeadlineExceeded)

	job, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, MsgTimeLimit, job.ErrorMessage)
}

func TestProcessor_UnknownJob(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(nil, f.repo, f.store, &fakeConverter{})
	err := p.Process(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}
