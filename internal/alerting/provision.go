package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// RuleSpec is one rule as declared in a rules file.
type RuleSpec struct {
	Name            string                      `yaml:"name"`
	Description     string                      `yaml:"description,omitempty"`
	Type            string                      `yaml:"type"`
	Severity        string                      `yaml:"severity,omitempty"`
	Enabled         *bool                       `yaml:"enabled,omitempty"`
	ThrottleMinutes int                         `yaml:"throttle_minutes,omitempty"`
	JobID           string                      `yaml:"job_id,omitempty"`
	ServerName      string                      `yaml:"server_name,omitempty"`
	Condition       map[string]any              `yaml:"condition,omitempty"`
	Notify          []models.NotificationTarget `yaml:"notify,omitempty"`
}

// RulesFile is the top-level rules file document.
type RulesFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// apply copies the declared definition onto rule. Bookkeeping fields are
// left alone.
func (s RuleSpec) apply(rule *models.AlertRule) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("rule name is required")
	}
	t, ok := models.ParseAlertType(s.Type)
	if !ok {
		return fmt.Errorf("invalid rule type %q for rule %q", s.Type, name)
	}
	if s.ThrottleMinutes < 0 {
		return fmt.Errorf("throttle_minutes must not be negative for rule %q", name)
	}
	if t == models.AlertTypeConsecutiveFailures && s.JobID == "" {
		return fmt.Errorf("rule %q needs job_id", name)
	}

	rule.Name = name
	rule.Description = s.Description
	rule.Type = t
	rule.Severity = models.ParseSeverity(s.Severity)
	rule.Enabled = s.Enabled == nil || *s.Enabled
	rule.ThrottleMinutes = s.ThrottleMinutes
	rule.JobID = s.JobID
	rule.ServerName = s.ServerName
	rule.Condition = s.Condition
	if rule.Condition == nil {
		rule.Condition = map[string]any{}
	}
	rule.Notify = s.Notify
	if rule.Notify == nil {
		rule.Notify = []models.NotificationTarget{}
	}
	return nil
}

// LoadRules decodes and validates a rules document.
func LoadRules(r io.Reader) ([]RuleSpec, error) {
	var file RulesFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse rules YAML: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	for i, spec := range file.Rules {
		if err := spec.apply(&models.AlertRule{}); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(spec.Name))
		if seen[key] {
			return nil, fmt.Errorf("duplicate rule name %q", spec.Name)
		}
		seen[key] = true
	}
	return file.Rules, nil
}

// LoadRulesFromFile reads a rules file from disk.
func LoadRulesFromFile(path string) ([]RuleSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// SyncResult counts what a sync changed.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
}

// Provisioner keeps the rules store in line with a rules file. Rules are
// matched by name; rules absent from the file are left untouched.
type Provisioner struct {
	path  string
	rules storage.RuleRepository
	log   *logger.Logger
}

// NewProvisioner creates a provisioner for the file at path.
func NewProvisioner(path string, rules storage.RuleRepository) *Provisioner {
	return &Provisioner{
		path:  path,
		rules: rules,
		log:   logger.WithPrefix("rules"),
	}
}

// Sync loads the file and writes every declared rule.
func (p *Provisioner) Sync(ctx context.Context) (SyncResult, error) {
	specs, err := LoadRulesFromFile(p.path)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncRules(ctx, p.rules, specs)
}

// SyncRules creates or updates rules by name.
func SyncRules(ctx context.Context, repo storage.RuleRepository, specs []RuleSpec) (SyncResult, error) {
	var res SyncResult
	now := time.Now().UTC()

	for _, spec := range specs {
		existing, err := repo.GetByName(ctx, strings.TrimSpace(spec.Name))
		if err != nil {
			return res, fmt.Errorf("get rule %q: %w", spec.Name, err)
		}

		if existing == nil {
			rule := &models.AlertRule{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now}
			if err := spec.apply(rule); err != nil {
				return res, err
			}
			if err := repo.Create(ctx, rule); err != nil {
				return res, fmt.Errorf("create rule %q: %w", rule.Name, err)
			}
			res.Created++
			continue
		}

		updated := *existing
		if err := spec.apply(&updated); err != nil {
			return res, err
		}
		if sameDefinition(existing, &updated) {
			res.Unchanged++
			continue
		}
		updated.UpdatedAt = now
		if err := repo.Update(ctx, &updated); err != nil {
			return res, fmt.Errorf("update rule %q: %w", updated.Name, err)
		}
		res.Updated++
	}
	return res, nil
}

func sameDefinition(a, b *models.AlertRule) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.Type == b.Type &&
		a.Severity == b.Severity &&
		a.Enabled == b.Enabled &&
		a.ThrottleMinutes == b.ThrottleMinutes &&
		a.JobID == b.JobID &&
		a.ServerName == b.ServerName &&
		sameJSONish(a.Condition, b.Condition) &&
		reflect.DeepEqual(a.Notify, b.Notify)
}

// sameJSONish compares condition maps loosely: stored conditions come back
// from JSON with float64 numbers while YAML yields ints.
func sameJSONish(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// Watch re-syncs whenever the rules file changes, until ctx is cancelled.
// Events are debounced so editors that write in several steps cause a
// single sync.
func (p *Provisioner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(p.path)
	if err != nil {
		return fmt.Errorf("resolve rules path: %w", err)
	}
	// Watch the directory so replace-by-rename saves are seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch rules directory: %w", err)
	}
	p.log.Infof("watching %s", absPath)

	const debounce = 500 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warnf("watcher error: %v", err)
		case <-timer.C:
			res, err := p.Sync(ctx)
			if err != nil {
				p.log.Errorf("reload rules: %v", err)
				continue
			}
			p.log.Infof("rules reloaded: %d created, %d updated, %d unchanged", res.Created, res.Updated, res.Unchanged)
		}
	}
}
