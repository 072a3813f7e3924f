// Package tailer follows a growing file and emits complete lines. It copes
// with rename-and-recreate rotation and with copytruncate.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/good-yellow-bee/lognexus/internal/logger"
)

// Line is one complete line read from the file.
type Line struct {
	Text string
	Path string
	// Offset is the byte offset of the line start.
	Offset int64
	Time   time.Time
}

// Options configures a Tailer.
type Options struct {
	// FromStart emits the existing content before following. Otherwise the
	// tailer starts at the end of the file.
	FromStart bool
	// Follow keeps watching after the current end of file is reached.
	Follow bool
	// MustExist fails New when the file is missing. Otherwise the tailer
	// waits for it to appear.
	MustExist bool
	// PollInterval is the stat fallback period for filesystems where
	// fsnotify events are unreliable.
	PollInterval time.Duration
	// MaxLineBytes splits longer lines.
	MaxLineBytes int
}

// DefaultOptions follows a file from its end.
func DefaultOptions() Options {
	return Options{
		Follow:       true,
		MustExist:    true,
		PollInterval: 250 * time.Millisecond,
		MaxLineBytes: 64 * 1024,
	}
}

// Tailer watches one file.
type Tailer struct {
	path string
	opts Options
	log  *logger.Logger

	watcher *fsnotify.Watcher
	file    *os.File
	info    os.FileInfo
	reader  *bufio.Reader
	offset  int64
	partial []byte

	lines    chan Line
	done     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// New creates a tailer for path.
func New(path string, opts Options) (*Tailer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = 64 * 1024
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil && opts.MustExist {
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}

	return &Tailer{
		path:  absPath,
		opts:  opts,
		log:   logger.WithPrefix("tailer"),
		lines: make(chan Line, 256),
		done:  make(chan struct{}),
	}, nil
}

// Path returns the absolute path being tailed.
func (t *Tailer) Path() string {
	return t.path
}

// Lines returns the line channel. It is closed when the tailer stops.
func (t *Tailer) Lines() <-chan Line {
	return t.lines
}

// Start opens the file and begins tailing in the background.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.New("tailer already started")
	}
	t.started = true

	if t.opts.Follow {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		// The directory is watched so recreated files are seen.
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
		}
		t.watcher = watcher
	}

	if err := t.open(!t.opts.FromStart); err != nil && !errors.Is(err, os.ErrNotExist) {
		if t.watcher != nil {
			t.watcher.Close()
		}
		return err
	}

	go t.run(ctx)
	return nil
}

// Stop ends tailing. It is safe to call more than once.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.lines)
	defer t.closeFile()
	if t.watcher != nil {
		defer t.watcher.Close()
	}

	if !t.readAvailable(ctx) || !t.opts.Follow {
		return
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if t.watcher != nil {
		events, errs = t.watcher.Events, t.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			if !t.check(ctx) {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.log.Warnf("watch %s: %v", t.path, err)
		case <-ticker.C:
			if !t.check(ctx) {
				return
			}
		}
	}
}

// check detects rotation and truncation, then reads new content. It
// returns false once the tailer should stop.
func (t *Tailer) check(ctx context.Context) bool {
	info, err := os.Stat(t.path)
	if err != nil {
		// Rotated away and not yet recreated: drain the old handle.
		return t.readAvailable(ctx)
	}

	switch {
	case t.file == nil:
		if err := t.open(false); err != nil {
			return true
		}
		t.log.Infof("%s appeared", t.path)
	case !os.SameFile(t.info, info):
		// Finish the rotated file before switching.
		if !t.readAvailable(ctx) {
			return false
		}
		t.closeFile()
		if err := t.open(false); err != nil {
			return true
		}
		t.log.Infof("%s rotated", t.path)
	case info.Size() < t.offset:
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			t.log.Warnf("rewind %s: %v", t.path, err)
			return true
		}
		t.reader.Reset(t.file)
		t.offset = 0
		t.partial = t.partial[:0]
		t.log.Infof("%s truncated", t.path)
	}
	return t.readAvailable(ctx)
}

func (t *Tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", t.path, err)
	}

	var offset int64
	if atEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("seek %s: %w", t.path, err)
		}
	}

	t.file = f
	t.info = info
	t.offset = offset
	t.partial = t.partial[:0]
	if t.reader == nil {
		t.reader = bufio.NewReaderSize(f, 32*1024)
	} else {
		t.reader.Reset(f)
	}
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// readAvailable emits every complete line up to the current end of file.
// An unterminated tail is kept until its newline arrives.
func (t *Tailer) readAvailable(ctx context.Context) bool {
	if t.file == nil {
		return true
	}
	for {
		chunk, err := t.reader.ReadSlice('\n')
		t.partial = append(t.partial, chunk...)

		switch {
		case err == nil:
			if !t.emit(ctx, t.partial) {
				return false
			}
			t.partial = t.partial[:0]
		case errors.Is(err, bufio.ErrBufferFull):
			if len(t.partial) >= t.opts.MaxLineBytes {
				if !t.emit(ctx, t.partial) {
					return false
				}
				t.partial = t.partial[:0]
			}
		case errors.Is(err, io.EOF):
			return true
		default:
			t.log.Errorf("read %s: %v", t.path, err)
			return true
		}
	}
}

func (t *Tailer) emit(ctx context.Context, raw []byte) bool {
	start := t.offset
	t.offset += int64(len(raw))

	text := raw
	if n := len(text); n > 0 && text[n-1] == '\n' {
		text = text[:n-1]
	}
	if n := len(text); n > 0 && text[n-1] == '\r' {
		text = text[:n-1]
	}

	line := Line{Text: string(text), Path: t.path, Offset: start, Time: time.Now()}
	select {
	case t.lines <- line:
		return true
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
}
