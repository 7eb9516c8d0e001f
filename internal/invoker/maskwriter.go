package invoker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/masker"
)

// maskWriter buffers process output into lines and masks each line before
// forwarding. Buffering whole lines keeps a secret from slipping through
// split across two Write calls.
type maskWriter struct {
	mu     sync.Mutex
	out    io.Writer
	masker *masker.Masker
	buf    bytes.Buffer
}

func newMaskWriter(out io.Writer, m *masker.Masker) *maskWriter {
	return &maskWriter{out: out, masker: m}
}

func (w *maskWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it buffered for the next Write.
			w.buf.WriteString(line)
			break
		}
		if _, err := io.WriteString(w.out, w.masker.Mask(line)); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush emits any trailing unterminated line. Called once after the process
// exits.
func (w *maskWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return
	}
	io.WriteString(w.out, w.masker.Mask(w.buf.String())) //nolint:errcheck
	w.buf.Reset()
}

// logLine adapts a slog logger into an io.Writer for process streams that
// have nowhere else to go.
type logLine struct {
	logger *slog.Logger
	stderr bool
}

func logLineWriter(ctx context.Context, program string, stderr bool) io.Writer {
	return &logLine{logger: ctxlog.FromContext(ctx).With("program", program), stderr: stderr}
}

func (l *logLine) Write(p []byte) (int, error) {
	text := string(bytes.TrimRight(p, "\n"))
	if text == "" {
		return len(p), nil
	}
	if l.stderr {
		l.logger.Warn(text)
	} else {
		l.logger.Info(text)
	}
	return len(p), nil
}
