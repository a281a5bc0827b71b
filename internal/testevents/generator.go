package testevents

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/okian/wddbridge/internal/adapters/wdd"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/pkg/logger"
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomResolution))
	return float64(n.Int64()) / float64(randomResolution)
}

// jitter returns a value in [-r, r).
func jitter(r float64) float64 { return (getRandomFloat()*2 - 1) * r }

// generateDances creates config.Dances dances. Dances start one after the
// other and their centres keep clear of the image border.
func generateDances(ctx context.Context, config *Config, start time.Time, stats *Stats) []Dance {
	dances := make([]Dance, 0, config.Dances)
	at := start.UTC()
	for i := 0; i < config.Dances; i++ {
		d := generateDance(config, at)
		dances = append(dances, d)
		at = at.Add(time.Duration(config.Waggles) * config.Interval)
	}
	stats.DancesGenerated = len(dances)
	logger.Get().Info(ctx, "generated dances",
		logger.Int("dances", len(dances)),
		logger.Int("waggles_per_dance", config.Waggles))
	return dances
}

func generateDance(config *Config, at time.Time) Dance {
	margin := 2 * config.Spread
	d := Dance{
		X:     margin + getRandomFloat()*math.Max(config.Width-2*margin, 0),
		Y:     margin + getRandomFloat()*math.Max(config.Height-2*margin, 0),
		Angle: getRandomFloat() * 2 * math.Pi,
	}
	for j := 0; j < config.Waggles; j++ {
		ev := model.WaggleEvent{
			X:               d.X + jitter(config.Spread),
			Y:               d.Y + jitter(config.Spread),
			Angle:           model.Float(math.Mod(d.Angle+jitter(angleJitter)+2*math.Pi, 2*math.Pi)),
			Duration:        model.Float(durationMin + getRandomFloat()*durationRange),
			Timestamp:       at.Add(time.Duration(j) * config.Interval),
			SystemTimestamp: time.Now().UTC(),
			CameraID:        config.Camera,
			EventID:         uuid.NewString(),
		}
		d.Waggles = append(d.Waggles, wdd.NewRecord(ev))
	}
	return d
}
