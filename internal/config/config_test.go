package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/wddbridge/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WDDAddr, convey.ShouldEqual, ":9901")
			convey.So(cfg.NATSSubject, convey.ShouldEqual, "wdd.waggles")
			convey.So(cfg.SignalIndex, convey.ShouldEqual, 1)
			convey.So(cfg.UseSoundboard, convey.ShouldResemble, []int{0})
			convey.So(cfg.WaggleMinCount, convey.ShouldEqual, 3)
			convey.So(cfg.MaxGap(), convey.ShouldEqual, 7*time.Second)
			convey.So(cfg.SignalHold(), convey.ShouldEqual, time.Second)
			convey.So(cfg.CharacterDelay(), convey.ShouldEqual, time.Millisecond)
			convey.So(cfg.AzimuthRefresh(), convey.ShouldEqual, time.Minute)
		})

		convey.Convey("Then it should require an auth key and a layout", func() {
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "wdd_authkey")
			convey.So(err.Error(), convey.ShouldContainSubstring, "comb_config")
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.New()
		cfg.WDDAuthKey = "secret"
		cfg.CombConfig = "comb.yaml"
		return cfg
	}

	convey.Convey("Given a complete config", t, func() {
		convey.So(valid().Validate(), convey.ShouldBeNil)

		cases := []struct {
			name   string
			mutate func(*config.Config)
			want   string
		}{
			{"sound index too large", func(c *config.Config) { c.SoundIndex = 12 }, "sound_index"},
			{"signal index zero", func(c *config.Config) { c.SignalIndex = 0 }, "signal_index"},
			{"unknown soundboard", func(c *config.Config) { c.UseSoundboard = []int{2} }, "use_soundboard"},
			{"both modes", func(c *config.Config) { c.AllActuators, c.HardwiredSignals = true, true }, "mutually exclusive"},
			{"min count one", func(c *config.Config) { c.WaggleMinCount = 1 }, "waggle_min_count"},
			{"zero duration", func(c *config.Config) { c.SignalDuration = 0 }, "signal_duration"},
			{"negative delay", func(c *config.Config) { c.CharacterDelayMS = -1 }, "character_delay_ms"},
		}
		for _, tc := range cases {
			convey.Convey("When "+tc.name, func() {
				cfg := valid()
				tc.mutate(cfg)
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, tc.want)
			})
		}

		convey.Convey("When no soundboard is listed", func() {
			cfg := valid()
			cfg.UseSoundboard = nil
			convey.So(cfg.Soundboards(), convey.ShouldResemble, []int{0})
		})
	})
}
