package reporter

import (
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// DesktopReporter sends OS notifications for terminal build events.
// Start events are intentionally silent to avoid notification spam in
// watch mode.
type DesktopReporter struct {
	logger logger.Logger
}

// NewDesktop creates a desktop notification reporter
func NewDesktop(log logger.Logger) *DesktopReporter {
	return &DesktopReporter{logger: log}
}

// BuildStart is a no-op for desktop notifications
func (r *DesktopReporter) BuildStart() {}

// BuildSuccess notifies that the build succeeded
func (r *DesktopReporter) BuildSuccess(event types.BuildSuccessEvent) {
	message := fmt.Sprintf("%d bundle(s) in %s",
		len(event.BundleGraph.Bundles), formatDuration(event.BuildTime))
	if err := beeep.Notify("✅ Packmule build succeeded", message, ""); err != nil {
		r.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}

// BuildFailure notifies that the build failed
func (r *DesktopReporter) BuildFailure(err error) {
	if nerr := beeep.Notify("❌ Packmule build failed", err.Error(), ""); nerr != nil {
		r.logger.Debug("Failed to send notification", logger.WithField("error", nerr))
	}
}
