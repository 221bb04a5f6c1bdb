package memory

import (
	"context"
	"log/slog"
	"time"
)

// RunConsolidationLoop periodically calls Consolidate until ctx is done,
// logging the report. cmd/gateway.go starts it once as a background
// goroutine when memory.consolidate_every_hours is positive.
func (s *Service) RunConsolidationLoop(ctx context.Context, every time.Duration) {
	if !s.Enabled() {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Consolidate(ctx)
			if err != nil {
				slog.Warn("memory: consolidate failed", "error", err)
				continue
			}
			slog.Info("memory: consolidated", "merged", report.Merged, "archived", report.Archived, "dropped", report.Dropped)
		}
	}
}
