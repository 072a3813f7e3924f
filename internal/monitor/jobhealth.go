package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

const jobHealthWindow = 24 * time.Hour

// JobHealth is the job.health payload.
type JobHealth struct {
	JobID       string   `json:"job_id"`
	ServerName  string   `json:"server_name"`
	SuccessRate float64  `json:"success_rate"`
	Previous    *float64 `json:"previous,omitempty"`
	Total       int64    `json:"total"`
	Failed      int64    `json:"failed"`
}

// JobHealthMonitor publishes per-job success rates. A job is re-published
// only when its rate moved by at least the delta threshold since the last
// publication.
type JobHealthMonitor struct {
	jobs       storage.JobRepository
	executions storage.ExecutionRepository
	publisher  alerting.Publisher
	delta      float64
	now        func() time.Time
	log        *logger.Logger

	mu   sync.Mutex
	last map[string]float64
}

// NewJobHealthMonitor creates the loop.
func NewJobHealthMonitor(jobs storage.JobRepository, executions storage.ExecutionRepository, publisher alerting.Publisher, delta float64) *JobHealthMonitor {
	return &JobHealthMonitor{
		jobs:       jobs,
		executions: executions,
		publisher:  publisher,
		delta:      delta,
		now:        time.Now,
		log:        logger.WithPrefix("job-health"),
		last:       make(map[string]float64),
	}
}

// Run performs one pass.
func (m *JobHealthMonitor) Run(ctx context.Context) error {
	active, err := m.jobs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	stats, err := m.executions.JobStats(ctx, m.now().Add(-jobHealthWindow))
	if err != nil {
		return fmt.Errorf("job stats: %w", err)
	}
	byJob := make(map[string]models.JobStats, len(stats))
	for _, s := range stats {
		byJob[s.JobID] = s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(active))
	published := 0
	for _, job := range active {
		seen[job.JobID] = true
		s := byJob[job.JobID]
		rate := s.SuccessRate()

		prev, known := m.last[job.JobID]
		if known && math.Abs(rate-prev) < m.delta {
			continue
		}
		m.last[job.JobID] = rate

		health := JobHealth{
			JobID:       job.JobID,
			ServerName:  job.ServerName,
			SuccessRate: rate,
			Total:       s.Total,
			Failed:      s.Failed,
		}
		if known {
			health.Previous = &prev
		}
		if m.publisher != nil {
			_ = m.publisher.Broadcast(ctx, notifier.NewScopedEvent(notifier.EventJobHealth, job.JobID, job.ServerName, health))
		}
		published++
	}

	// Inactive or removed jobs leave the cache.
	for id := range m.last {
		if !seen[id] {
			delete(m.last, id)
		}
	}

	if published > 0 {
		m.log.Debugf("published health for %d of %d jobs", published, len(active))
	}
	return nil
}

// tracked returns the number of cached job scores.
func (m *JobHealthMonitor) tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}
