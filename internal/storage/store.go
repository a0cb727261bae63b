// Package storage keeps uploaded presentations and converted PDFs, either on
// local disk or in an S3 bucket, and hands out URLs clients can download from.
package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

// Store is the artifact store used by the API and the conversion workers.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ -]*$`)

// ValidKey reports whether key is a flat object name safe on every backend.
func ValidKey(key string) bool {
	return len(key) <= 255 && keyPattern.MatchString(key) && !strings.Contains(key, "..")
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: storage key %q", common.ErrInvalidInput, key)
	}
	return nil
}

func newID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// SourceKey names an uploaded presentation: {hex uuid}_{base}.pptx.
func SourceKey(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = sanitize(base)
	return fmt.Sprintf("%s_%s.pptx", newID(), base)
}

// ResultKey names a converted PDF: {hex uuid}.pdf.
func ResultKey() string {
	return newID() + ".pdf"
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	out = strings.Trim(out, ". ")
	if out == "" {
		return "upload"
	}
	return out
}
