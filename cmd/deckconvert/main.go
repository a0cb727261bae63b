// Command deckconvert walks a PowerPoint deck through the conversion service:
// confirm, upload, wait, then print the PDF link.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/client"
	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/poller"
	"github.com/joseph-ayodele/deckconvert/internal/wizard"
)

func main() {
	var (
		yes     = flag.Bool("yes", false, "skip the confirmation prompt")
		apiURL  = flag.String("api", "", "conversion service base URL (overrides API_BASE_URL)")
		verbose = flag.Bool("v", false, "log wizard events to stderr")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-yes] [-api URL] [-v] deck.pptx\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	// Setup structured logger that outputs messages with variables but no time/level
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if *apiURL != "" {
		cfg.Client.APIBaseURL = *apiURL
	}
	if err := cfg.ValidateClient(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.Client.APIBaseURL,
		client.WithTimeout(cfg.Client.HTTPTimeout),
		client.WithLogger(logger),
	)
	p, err := poller.New(api, poller.Config{
		Interval: cfg.Client.PollInterval,
		Timeout:  cfg.Client.PollTimeout,
	}, poller.WithLogger(logger))
	if err != nil {
		logger.Error("invalid poll settings", "error", err)
		os.Exit(2)
	}

	session := wizard.NewSession(ctx, api, p, wizard.WithSessionLogger(logger))
	defer session.Close()

	w := &wizardCLI{
		session: session,
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		confirm: !*yes,
	}
	path := flag.Arg(0)
	ok, err := w.convert(ctx, path)
	if errors.Is(err, context.Canceled) {
		_, _ = session.Reset()
		fmt.Fprintln(os.Stdout, "\ncancelled")
		os.Exit(130)
	}
	if err != nil {
		fmt.Fprintf(os.Stdout, "✗ %s: %v\n", path, err)
	}
	if !ok {
		os.Exit(1)
	}
}

type wizardCLI struct {
	session *wizard.Session
	in      *bufio.Reader
	out     io.Writer
	confirm bool
}

// convert runs one file through select, confirm, upload and wait. It reports
// whether a PDF link was produced.
func (w *wizardCLI) convert(ctx context.Context, path string) (bool, error) {
	f, err := wizard.FileFromPath(path)
	if err != nil {
		return false, err
	}
	if !constants.AllowedFile(f.Name) {
		return false, errors.New(constants.MsgUnsupportedFormat)
	}
	if _, err := w.session.Select(f); err != nil {
		return false, err
	}

	if w.confirm {
		fmt.Fprintf(w.out, "Convert %s (%s) to PDF? [Y/n] ", f.Name, f.SizeMB())
		answer, err := w.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "", "y", "yes":
		default:
			_, _ = w.session.Reset()
			fmt.Fprintln(w.out, "skipped")
			return true, nil
		}
	}

	if _, err := w.session.Upload(); err != nil {
		return false, err
	}
	return w.follow(ctx)
}

// readLine reads one answer from the terminal, giving up when ctx ends.
func (w *wizardCLI) readLine(ctx context.Context) (string, error) {
	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := w.in.ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		ch <- line{s, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		return l.s, l.err
	}
}

// follow renders session updates until the current file reaches done or error.
func (w *wizardCLI) follow(ctx context.Context) (bool, error) {
	var last constants.Status
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case st := <-w.session.Updates():
			if st.Status == last {
				continue
			}
			last = st.Status
			switch st.Status {
			case constants.StatusUploading:
				fmt.Fprintf(w.out, "Uploading %s...\n", st.File.Name)
			case constants.StatusProcessing:
				fmt.Fprintf(w.out, "Converting (job %s)...\n", st.JobID)
			case constants.StatusDone:
				fmt.Fprintf(w.out, "✓ Conversion complete: %s\n", st.URL)
				return true, nil
			case constants.StatusError:
				fmt.Fprintf(w.out, "✗ Conversion failed: %s\n", st.Error)
				return false, nil
			}
		}
	}
}
