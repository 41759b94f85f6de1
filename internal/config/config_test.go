package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalstream/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Separator, convey.ShouldEqual, ",")
			convey.So(cfg.ConnectTimeoutMS, convey.ShouldEqual, 30_000)
			convey.So(cfg.ReconnectDelayMS, convey.ShouldEqual, 2_000)
			convey.So(cfg.MaxReconnectAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.InactivityTimeoutMS, convey.ShouldEqual, 30_000)
			convey.So(cfg.RateWindow, convey.ShouldEqual, 5)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the stream timings convert to durations", func() {
			sc := cfg.StreamConfig()
			convey.So(sc.ConnectTimeout, convey.ShouldEqual, 30*time.Second)
			convey.So(sc.ReconnectDelay, convey.ShouldEqual, 2*time.Second)
			convey.So(sc.CloseDelay, convey.ShouldEqual, time.Second)
			convey.So(sc.MaxReconnectAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.SubmitTimeout(), convey.ShouldEqual, time.Minute)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		cfg := config.New(context.Background())

		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = " " }},
			{"negative attempts", func(c *config.Config) { c.MaxReconnectAttempts = -1 }},
			{"zero connect timeout", func(c *config.Config) { c.ConnectTimeoutMS = 0 }},
			{"negative delay", func(c *config.Config) { c.ReconnectDelayMS = -5 }},
			{"long separator", func(c *config.Config) { c.Separator = ";;" }},
			{"tiny rate window", func(c *config.Config) { c.RateWindow = 1 }},
			{"zero page size", func(c *config.Config) { c.MaxPageSize = 0 }},
		}
		for _, tc := range cases {
			convey.Convey("When it has "+tc.name, func() {
				tc.mutate(cfg)
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("A tab separator is accepted", func() {
			cfg.Separator = `\t`
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Origins are split and trimmed", func() {
			cfg.CORSAllowedOrigins = " http://a.test , ,http://b.test"
			convey.So(cfg.Origins(), convey.ShouldResemble, []string{"http://a.test", "http://b.test"})
		})
	})
}
