// Package reporter delivers build lifecycle events to the user
package reporter

import (
	"fmt"
	"sync"
	"time"

	"github.com/packmule/packmule/pkg/interfaces"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// ConsoleReporter renders lifecycle events through the logger
type ConsoleReporter struct {
	logger  logger.Logger
	mu      sync.Mutex
	started time.Time
}

// NewConsole creates a console reporter
func NewConsole(log logger.Logger) *ConsoleReporter {
	return &ConsoleReporter{logger: log}
}

// BuildStart reports that a build attempt has begun
func (r *ConsoleReporter) BuildStart() {
	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()

	r.logger.Info("Building...")
}

// BuildSuccess reports a successful attempt with its bundle stats
func (r *ConsoleReporter) BuildSuccess(event types.BuildSuccessEvent) {
	r.logger.Success(fmt.Sprintf("Built %d bundle(s) in %s",
		len(event.BundleGraph.Bundles), formatDuration(event.BuildTime)))

	for _, b := range event.BundleGraph.Bundles {
		if b.Stats == nil {
			continue
		}
		suffix := ""
		if b.Stats.FromCache {
			suffix = " (cached)"
		}
		r.logger.Info(fmt.Sprintf("%s  %s  %s%s",
			b.OutputPath(), formatSize(b.Stats.Size), formatDuration(b.Stats.Duration), suffix),
			logger.WithField("assets", b.Stats.AssetCount))
	}

	if n := len(event.ChangedAssets); n > 0 {
		r.logger.Debug(fmt.Sprintf("%d asset(s) changed", n))
	}
}

// BuildFailure reports a failed attempt
func (r *ConsoleReporter) BuildFailure(err error) {
	r.logger.Error(fmt.Sprintf("Build failed: %v", err))
}

// Multi fans lifecycle events out to several reporters
type Multi struct {
	reporters []interfaces.Reporter
}

// NewMulti combines reporters into one
func NewMulti(reporters ...interfaces.Reporter) *Multi {
	return &Multi{reporters: reporters}
}

// BuildStart forwards the event to every reporter
func (m *Multi) BuildStart() {
	for _, r := range m.reporters {
		r.BuildStart()
	}
}

// BuildSuccess forwards the event to every reporter
func (m *Multi) BuildSuccess(event types.BuildSuccessEvent) {
	for _, r := range m.reporters {
		r.BuildSuccess(event)
	}
}

// BuildFailure forwards the event to every reporter
func (m *Multi) BuildFailure(err error) {
	for _, r := range m.reporters {
		r.BuildFailure(err)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
