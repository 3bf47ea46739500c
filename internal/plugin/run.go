package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
)

const maxLineSize = 1 << 20

// Run reads inputs from r until it is exhausted or ctx is done. Every input is
// handled in order; replies go to the handler's writer.
func Run(ctx context.Context, r io.Reader, h *Handler) error {
	linesChan := make(chan []byte)
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			lineCopy := make([]byte, len(scanner.Bytes()))
			copy(lineCopy, scanner.Bytes())
			select {
			case linesChan <- lineCopy:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
		}
		close(linesChan)
	}()

	slog.Info("Ready to process input from stdin...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-linesChan:
			if !ok {
				if err := <-errChan; err != nil {
					return err
				}
				slog.Info("Input stream closed, shutting down.")
				return nil
			}
			if len(line) == 0 {
				continue
			}

			var input Input
			if err := json.Unmarshal(line, &input); err != nil {
				slog.Warn("Failed to decode input JSON", "error", err, "raw_line_prefix", prefix(line, 128))
				continue
			}

			if err := h.Handle(ctx, &input); err != nil {
				if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
					return nil
				}
				slog.Error("Failed to write response to stdout", "error", err)
			}
		}
	}
}

func prefix(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
