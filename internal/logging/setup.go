package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures New
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	File   string // optional log file, appended to
	// Output defaults to os.Stdout
	Output io.Writer
	// Buffer defaults to the global log buffer
	Buffer *RingBuffer
}

// Logger is the process logger together with the resources behind it
type Logger struct {
	*slog.Logger
	Level  *slog.LevelVar
	Buffer *RingBuffer
	file   *os.File
}

// ParseLevel maps a level name to a slog level. Unknown names read as info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// New builds a logger writing to the output and the optional file while
// capturing entries to the ring buffer. When the file cannot be opened the
// logger still works without it and the error is returned alongside.
func New(opts Options) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	buffer := opts.Buffer
	if buffer == nil {
		buffer = GetLogBuffer()
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(opts.Level))

	var file *os.File
	var fileErr error
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fileErr = fmt.Errorf("failed to open log file: %w", err)
		} else {
			file = f
			out = io.MultiWriter(out, f)
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: levelVar}
	var next slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		next = slog.NewTextHandler(out, handlerOpts)
	} else {
		next = slog.NewJSONHandler(out, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(WrapHandler(buffer, next, levelVar)),
		Level:  levelVar,
		Buffer: buffer,
		file:   file,
	}, fileErr
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
