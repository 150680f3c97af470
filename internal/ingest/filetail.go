package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"sidekick/internal/config"
)

// StartFileTail follows NDJSON files written by local collectors.
func StartFileTail(ctx context.Context, cfg *config.Manager, sink *Sink, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, sink, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, sink *Sink, logger *slog.Logger) {
	var file *os.File
	var offset int64
	var partial []byte
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			partial = partial[:0]
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// only the first open skips existing lines; a rotated file is read from the start
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		for {
			chunk, err := reader.ReadBytes('\n')
			offset += int64(len(chunk))
			partial = append(partial, chunk...)
			if err != nil {
				if errors.Is(err, io.EOF) {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := bytes.TrimSpace(partial)
			partial = partial[:0]
			if len(line) == 0 {
				continue
			}
			_ = sink.Accept(ctx, line, "file_tail")
		}
	}
}
