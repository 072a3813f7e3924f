package tailer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = 20 * time.Millisecond
	return opts
}

func startTailer(t *testing.T, path string, opts Options) *Tailer {
	t.Helper()
	tl, err := New(path, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		tl.Stop()
	})
	if err := tl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tl
}

// collect reads n lines or fails after a timeout.
func collect(t *testing.T, tl *Tailer, n int) []string {
	t.Helper()
	var got []string
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case line, ok := <-tl.Lines():
			if !ok {
				t.Fatalf("lines closed after %v", got)
			}
			got = append(got, line.Text)
		case <-timeout:
			t.Fatalf("timed out with %v, want %d lines", got, n)
		}
	}
	return got
}

func TestNew_MustExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.log")

	if _, err := New(missing, DefaultOptions()); err == nil {
		t.Error("New succeeded for missing file")
	}

	opts := DefaultOptions()
	opts.MustExist = false
	if _, err := New(missing, opts); err != nil {
		t.Errorf("New with MustExist=false: %v", err)
	}
}

func TestTailer_ReadsExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "line 1\r\nline 2\nline 3\n")

	opts := fastOptions()
	opts.FromStart = true
	opts.Follow = false
	tl := startTailer(t, path, opts)

	got := collect(t, tl, 3)
	if strings.Join(got, "|") != "line 1|line 2|line 3" {
		t.Errorf("lines = %q", got)
	}
	if _, ok := <-tl.Lines(); ok {
		t.Error("lines channel not closed without follow")
	}
}

func TestTailer_StartsAtEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "old line\n")

	tl := startTailer(t, path, fastOptions())
	appendFile(t, path, "new line\n")

	if got := collect(t, tl, 1); got[0] != "new line" {
		t.Errorf("first line = %q, want new line", got[0])
	}
}

func TestTailer_PartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "")

	tl := startTailer(t, path, fastOptions())
	appendFile(t, path, "half")
	time.Sleep(100 * time.Millisecond)
	appendFile(t, path, " done\nnext\n")

	got := collect(t, tl, 2)
	if got[0] != "half done" || got[1] != "next" {
		t.Errorf("lines = %q", got)
	}
}

func TestTailer_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "")

	tl := startTailer(t, path, fastOptions())
	appendFile(t, path, "before truncate with a long enough line\n")
	collect(t, tl, 1)

	writeFile(t, path, "after\n")
	if got := collect(t, tl, 1); got[0] != "after" {
		t.Errorf("line after truncate = %q", got[0])
	}
}

func TestTailer_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "")

	tl := startTailer(t, path, fastOptions())
	appendFile(t, path, "first\n")
	collect(t, tl, 1)

	if err := os.Rename(path, filepath.Join(dir, "app.log.1")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	writeFile(t, path, "rotated\n")

	if got := collect(t, tl, 1); got[0] != "rotated" {
		t.Errorf("line after rotation = %q", got[0])
	}
}

func TestTailer_WaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.log")
	opts := fastOptions()
	opts.MustExist = false
	tl := startTailer(t, path, opts)

	writeFile(t, path, "hello\n")
	if got := collect(t, tl, 1); got[0] != "hello" {
		t.Errorf("line = %q", got[0])
	}
}

func TestTailer_StopClosesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "")
	tl := startTailer(t, path, fastOptions())

	tl.Stop()
	tl.Stop()
	select {
	case _, ok := <-tl.Lines():
		if ok {
			t.Error("unexpected line after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lines not closed after Stop")
	}
}

func TestTailer_StartTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "")
	tl := startTailer(t, path, fastOptions())
	if err := tl.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}
