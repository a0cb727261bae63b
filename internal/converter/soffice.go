package converter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Soffice converts by running LibreOffice headless in a scratch directory.
type Soffice struct {
	path    string
	workDir string
	runner  Runner
	logger  *slog.Logger
}

func NewSoffice(path, workDir string, logger *slog.Logger) *Soffice {
	if path == "" {
		path = "soffice"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Soffice{path: path, workDir: workDir, runner: execRunner{}, logger: logger}
}

func (s *Soffice) Name() string { return "soffice" }

func (s *Soffice) Convert(ctx context.Context, filename string, r io.Reader) ([]byte, error) {
	dir, err := os.MkdirTemp(s.workDir, "deckconvert-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "input"
	}
	in := filepath.Join(dir, base+".pptx")
	f, err := os.Create(in)
	if err != nil {
		return nil, fmt.Errorf("create input: %w", err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	// A private profile per run avoids the lock LibreOffice takes on a shared one.
	profile := filepath.Join(dir, "profile")
	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", dir,
		in,
	}
	if _, stderr, err := s.runner.Run(ctx, s.path, withJob(ctx, s.logger), args...); err != nil {
		return nil, fmt.Errorf("soffice failed: %w: %s", err, truncate(string(stderr), 512))
	}

	out, err := os.ReadFile(filepath.Join(dir, base+".pdf"))
	if err != nil {
		return nil, fmt.Errorf("read soffice output: %w", err)
	}
	if err := checkPDF(out); err != nil {
		return nil, err
	}
	return out, nil
}
