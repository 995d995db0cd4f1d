// Package exporters publishes cached metrics onto the event bus.
package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes worker statistics so that the
// monitor SSE stream can chart them.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher, interval time.Duration) *SSEExporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SSEExporter{
		eventBus: eventBus,
		interval: interval,
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.eventBus.Publish(Stats(metrics.GetSnapshot()))
		}
	}
}

// Stats converts a metrics snapshot into a bus event.
func Stats(snap metrics.Snapshot) events.WorkerStatsEvent {
	return events.WorkerStatsEvent{
		Live:      snap.Live,
		Spawned:   formatCounts(snap.Spawned),
		Pipelines: formatCounts(snap.Pipelines),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func formatCounts(counts map[string]int) map[string]string {
	out := make(map[string]string, len(counts))
	for k, v := range counts {
		out[k] = strconv.Itoa(v)
	}
	return out
}
