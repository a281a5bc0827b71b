package testevents

import (
	"context"
	"fmt"

	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
)

// verifyResults compares what the bridge counted for the camera before and
// after the session.
func verifyResults(ctx context.Context, config *Config, before, after types.BridgeStats, stats *Stats) error {
	prev, _ := cameraStats(before, config.Camera)
	cur, ok := cameraStats(after, config.Camera)
	if !ok {
		return fmt.Errorf("bridge does not know camera %q", config.Camera)
	}

	waggles := cur.Waggles - prev.Waggles
	triggers := cur.Triggers - prev.Triggers
	logger.Get().Info(ctx, "bridge counters",
		logger.Any("waggles", waggles),
		logger.Any("triggers", triggers),
		logger.Any("sent", after.Messages.Sent-before.Messages.Sent),
		logger.Any("suppressed", after.Messages.Suppressed-before.Messages.Suppressed),
		logger.Any("unassigned", after.Messages.Unassigned-before.Messages.Unassigned))

	if waggles != int64(stats.WagglesSent) {
		return fmt.Errorf("bridge processed %d waggles, %d were sent", waggles, stats.WagglesSent)
	}
	if triggers < int64(stats.DancesGenerated) {
		logger.Get().Warn(ctx, "fewer dance triggers than dances",
			logger.Any("triggers", triggers), logger.Int("dances", stats.DancesGenerated))
	}
	return nil
}

func cameraStats(s types.BridgeStats, cam string) (types.CameraStats, bool) {
	for _, c := range s.Cameras {
		if c.CameraID == cam {
			return c, true
		}
	}
	return types.CameraStats{}, false
}
