package testevents

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
)

// Run simulates a decoder: it sends config.Dances dances over one session
// and, with an admin URL, checks that the bridge processed every waggle.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting waggle simulation",
		logger.String("url", config.URL),
		logger.String("camera", config.Camera),
		logger.String("format", config.Format.String()),
		logger.Int("dances", config.Dances),
		logger.Int("waggles", config.Waggles))

	var before types.BridgeStats
	if config.AdminURL != "" {
		var err error
		if before, err = fetchStats(ctx, config.AdminURL, config.Timeout); err != nil {
			return fmt.Errorf("bridge health check failed: %w", err)
		}
	}

	dances := generateDances(ctx, config, time.Now(), stats)

	session, err := Dial(ctx, config.URL, config.AuthKey, config.Format, config.Timeout)
	if err != nil {
		return err
	}
	sendErr := sendDances(ctx, config, session, dances, stats)
	if err := session.Close(); err != nil {
		logger.Get().Warn(ctx, "closing session", logger.Error(err))
	}
	if sendErr != nil {
		return sendErr
	}

	if config.AdminURL != "" {
		time.Sleep(settleDelay)
		after, err := fetchStats(ctx, config.AdminURL, config.Timeout)
		if err != nil {
			return err
		}
		if err := verifyResults(ctx, config, before, after, stats); err != nil {
			return fmt.Errorf("result verification failed: %w", err)
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)
	return nil
}

func sendDances(ctx context.Context, config *Config, session *Session, dances []Dance, stats *Stats) error {
	for i, d := range dances {
		if config.Verbose {
			logger.Get().Info(ctx, "sending dance",
				logger.Int("dance", i),
				logger.Float64("x", d.X),
				logger.Float64("y", d.Y),
				logger.Degrees("angle_deg", d.Angle))
		}
		for _, r := range d.Waggles {
			if err := session.Send(r); err != nil {
				stats.WagglesFailed++
				return fmt.Errorf("send waggle %s: %w", r.WaggleID, err)
			}
			stats.WagglesSent++
			if config.Pace > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(config.Pace):
				}
			}
		}
	}
	return nil
}

func displayFinalStats(stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.WagglesSent) / stats.Duration.Seconds()
	}
	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("dances", stats.DancesGenerated),
		logger.Int("waggles_sent", stats.WagglesSent),
		logger.Int("waggles_failed", stats.WagglesFailed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("waggles_per_second", perSecond))
}
