// Package monitoring aggregates pipeline health for the API's status
// endpoint: queue depths, download outcome counts and derived alerts.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
)

// Snapshot is the current pipeline state as last collected.
type Snapshot struct {
	QueueDepth         int       `json:"queue_depth"`
	DLQDepth           int       `json:"dlq_depth"`
	TotalDownloads     int64     `json:"total_downloads"`
	CompletedDownloads int64     `json:"completed_downloads"`
	FailedDownloads    int64     `json:"failed_downloads"`
	CancelledDownloads int64     `json:"cancelled_downloads"`
	ActiveDownloads    int64     `json:"active_downloads"`
	LastUpdated        time.Time `json:"last_updated"`
}

// StatsRepository provides the aggregate download counts.
type StatsRepository interface {
	GetDownloadStats(ctx context.Context) (*database.DownloadStats, error)
}

// QueueProvider provides queue depth readings.
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// Monitor periodically collects a pipeline snapshot.
type Monitor struct {
	mu       sync.RWMutex
	snapshot Snapshot
	repo     StatsRepository
	queue    QueueProvider
	logger   *logging.Logger
	interval time.Duration
}

// NewMonitor creates a monitor collecting every interval.
func NewMonitor(repo StatsRepository, queue QueueProvider, logger *logging.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		snapshot: Snapshot{LastUpdated: time.Now()},
		repo:     repo,
		queue:    queue,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the collection loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.collect(ctx); err != nil {
					m.logger.WithError(err).Warn("pipeline snapshot collection failed")
				}
			}
		}
	}()
}

func (m *Monitor) collect(ctx context.Context) error {
	queueDepth, err := m.queue.GetQueueDepth()
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	dlqDepth, err := m.queue.GetDLQDepth()
	if err != nil {
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}

	stats, err := m.repo.GetDownloadStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get download stats: %w", err)
	}

	metrics.UpdateQueueDepth(queueDepth)

	m.mu.Lock()
	m.snapshot = Snapshot{
		QueueDepth:         queueDepth,
		DLQDepth:           dlqDepth,
		TotalDownloads:     stats.Total,
		CompletedDownloads: stats.Completed,
		FailedDownloads:    stats.Failed,
		CancelledDownloads: stats.Cancelled,
		ActiveDownloads:    stats.Total - stats.Completed - stats.Failed - stats.Cancelled,
		LastUpdated:        time.Now(),
	}
	m.mu.Unlock()

	return nil
}

// GetSnapshot returns a copy of the latest snapshot.
func (m *Monitor) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// GetSystemHealth grades the snapshot: failures landing in the DLQ or a
// deep backlog degrade the reported health.
func (m *Monitor) GetSystemHealth() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot.DLQDepth > 10 {
		return "critical"
	}
	if m.snapshot.QueueDepth > 100 {
		return "warning"
	}
	if m.snapshot.TotalDownloads > 0 {
		failureRate := float64(m.snapshot.FailedDownloads) / float64(m.snapshot.TotalDownloads)
		if failureRate > 0.25 {
			return "warning"
		}
	}
	return "healthy"
}

// GetAlerts lists the conditions behind a degraded health grade.
func (m *Monitor) GetAlerts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []string

	if m.snapshot.DLQDepth > 10 {
		alerts = append(alerts, fmt.Sprintf("High DLQ depth: %d downloads", m.snapshot.DLQDepth))
	}
	if m.snapshot.QueueDepth > 100 {
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d downloads pending", m.snapshot.QueueDepth))
	}
	if m.snapshot.TotalDownloads > 0 {
		failureRate := float64(m.snapshot.FailedDownloads) / float64(m.snapshot.TotalDownloads)
		if failureRate > 0.25 {
			alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", failureRate*100))
		}
	}

	return alerts
}
