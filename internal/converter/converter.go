// Package converter turns a presentation into PDF bytes, either through an
// unoserver instance over HTTP or by running LibreOffice headless locally.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

// ErrNotPDF is returned when the converter produced something other than a PDF.
var ErrNotPDF = errors.New("converter output is not a PDF")

var pdfMagic = []byte("%PDF-")

// Converter converts one presentation to PDF.
type Converter interface {
	Convert(ctx context.Context, filename string, r io.Reader) ([]byte, error)
	Name() string
}

func checkPDF(out []byte) error {
	if !bytes.HasPrefix(out, pdfMagic) {
		return fmt.Errorf("%w (%d bytes)", ErrNotPDF, len(out))
	}
	return nil
}

// withJob tags logger with the job being converted, if ctx carries one.
func withJob(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := common.JobIDFromContext(ctx); id != "" {
		return logger.With("job_id", id)
	}
	return logger
}

// New builds the converter selected by cfg.
func New(cfg common.ConverterConfig, logger *slog.Logger) (Converter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "unoserver", "":
		addr := net.JoinHostPort(cfg.UnoserverHost, cfg.UnoserverPort)
		return NewUnoserver("http://"+addr, cfg.Timeout, logger), nil
	case "soffice":
		return NewSoffice(cfg.SofficePath, cfg.WorkDir, logger), nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown converter %q", cfg.Driver), common.ErrConfig)
	}
}
