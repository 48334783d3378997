package logutil

import (
	"time"

	"github.com/caarlos0/log"
)

// LogDuration reports the time elapsed since start as an indented line
// under the logger's current entry.
func LogDuration(logger *log.Logger, start time.Time) {
	logger.IncreasePadding()
	logger.Infof("took: %dms", time.Since(start).Milliseconds())
	logger.ResetPadding()
}
