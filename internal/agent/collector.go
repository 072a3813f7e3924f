package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/tailer"
)

// maxMessageBytes matches the server's per-entry message limit.
const maxMessageBytes = 64 * 1024

// SourceConfig defines a file to ship.
type SourceConfig struct {
	Name string
	Path string
	// Level is used for lines without a recognised level token.
	Level models.LogLevel
	// DetectLevel looks for a level token near the start of each line.
	DetectLevel bool
	JobID       string
	Category    string
	// FromStart ships the existing content before following.
	FromStart bool
}

// Collector turns the lines of one file into log entries.
type Collector struct {
	source SourceConfig
	server string
	tailer *tailer.Tailer

	entries chan *models.LogEntry
	lines   atomic.Int64

	stopOnce sync.Once
}

// NewCollector creates a collector for source, attributing entries to
// serverName.
func NewCollector(source SourceConfig, serverName string) (*Collector, error) {
	if source.Level == "" {
		source.Level = models.LevelInformation
	}
	if source.Level.Rank() < 0 {
		lv, ok := models.ParseLogLevel(string(source.Level))
		if !ok {
			return nil, fmt.Errorf("source %s: invalid level %q", source.Name, source.Level)
		}
		source.Level = lv
	}

	opts := tailer.DefaultOptions()
	opts.FromStart = source.FromStart
	opts.MustExist = false
	opts.MaxLineBytes = maxMessageBytes
	t, err := tailer.New(source.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("create tailer for %s: %w", source.Path, err)
	}

	return &Collector{
		source:  source,
		server:  serverName,
		tailer:  t,
		entries: make(chan *models.LogEntry, 256),
	}, nil
}

// Start begins tailing. Entries are closed when the tailer stops.
func (c *Collector) Start(ctx context.Context) error {
	if err := c.tailer.Start(ctx); err != nil {
		return fmt.Errorf("start tailer: %w", err)
	}
	go c.collect(ctx)
	return nil
}

func (c *Collector) collect(ctx context.Context) {
	defer close(c.entries)

	for line := range c.tailer.Lines() {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		c.lines.Add(1)
		select {
		case c.entries <- c.toEntry(line):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) toEntry(line tailer.Line) *models.LogEntry {
	level := c.source.Level
	if c.source.DetectLevel {
		if detected, ok := DetectLevel(line.Text); ok {
			level = detected
		}
	}
	category := c.source.Category
	if category == "" {
		category = c.source.Name
	}

	return &models.LogEntry{
		ID:         uuid.New().String(),
		Timestamp:  line.Time.UTC(),
		Level:      level,
		Message:    truncate(line.Text, maxMessageBytes),
		ServerName: c.server,
		JobID:      c.source.JobID,
		Category:   category,
		Properties: map[string]any{
			"source": c.source.Name,
			"file":   line.Path,
			"offset": line.Offset,
		},
	}
}

// Entries returns the entry channel.
func (c *Collector) Entries() <-chan *models.LogEntry {
	return c.entries
}

// Lines returns the number of lines collected so far.
func (c *Collector) Lines() int64 {
	return c.lines.Load()
}

// Source returns the source configuration.
func (c *Collector) Source() SourceConfig {
	return c.source
}

// Stop stops the tailer.
func (c *Collector) Stop() {
	c.stopOnce.Do(c.tailer.Stop)
}

// DetectLevel looks at the first few tokens of a line for a level name.
// Only upper-case or bracketed tokens count, so that words like "alert"
// in free text are not mistaken for a level.
func DetectLevel(text string) (models.LogLevel, bool) {
	fields := strings.Fields(text)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	for _, f := range fields {
		bracketed := strings.ContainsAny(f[:1], "[(<")
		token := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if token == "" {
			continue
		}
		if !bracketed && token != strings.ToUpper(token) {
			continue
		}
		if level, ok := models.ParseLogLevel(token); ok {
			return level, true
		}
	}
	return "", false
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
