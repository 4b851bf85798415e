package config_test

import (
	"errors"
	"os"
	"runtime"
	"testing"

	"omr-grader/internal/config"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Given a config loader", t, func() {
		clearConfigEnv()

		Convey("When loading with defaults only", func() {
			cfg, err := config.Load()

			Convey("Then the built-in defaults come back", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":8080")
				So(cfg.WorkerCount, ShouldEqual, runtime.NumCPU())
				So(cfg.QueueSize, ShouldEqual, 256)
				So(cfg.DefaultTemplate, ShouldEqual, "standard-100")
				So(cfg.FillFloor, ShouldEqual, 0.20)
				So(cfg.FillCeiling, ShouldEqual, 0.60)
				So(cfg.OCREnabled, ShouldBeFalse)
			})
		})

		Convey("When environment variables are set", func() {
			_ = os.Setenv("OMR_ADDR", ":9000")
			_ = os.Setenv("OMR_WORKER_COUNT", "4")
			_ = os.Setenv("OMR_FILL_CEILING", "0.7")
			_ = os.Setenv("OMR_OCR_ENABLED", "true")
			defer clearConfigEnv()

			cfg, err := config.Load()

			Convey("Then they override the defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":9000")
				So(cfg.WorkerCount, ShouldEqual, 4)
				So(cfg.FillCeiling, ShouldEqual, 0.7)
				So(cfg.OCREnabled, ShouldBeTrue)
				So(cfg.QueueSize, ShouldEqual, 256)
			})
		})

		Convey("When a YAML file is provided", func() {
			path := writeTempConfig(`
addr: ":9090"
queue_size: 32
fill_floor: 0.25
default_template: "practice-20"
`)
			defer func() { _ = os.Remove(path) }()
			_ = os.Setenv("OMR_CONFIG", path)
			defer clearConfigEnv()

			cfg, err := config.Load()

			Convey("Then file values land and the rest stay default", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":9090")
				So(cfg.QueueSize, ShouldEqual, 32)
				So(cfg.FillFloor, ShouldEqual, 0.25)
				So(cfg.DefaultTemplate, ShouldEqual, "practice-20")
				So(cfg.FillCeiling, ShouldEqual, 0.60)
			})
		})

		Convey("When both file and environment set the same key", func() {
			path := writeTempConfig(`
addr: ":9090"
worker_count: 2
`)
			defer func() { _ = os.Remove(path) }()
			_ = os.Setenv("OMR_CONFIG", path)
			_ = os.Setenv("OMR_ADDR", ":7070")
			defer clearConfigEnv()

			cfg, err := config.Load()

			Convey("Then the environment wins", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":7070")
				So(cfg.WorkerCount, ShouldEqual, 2)
			})
		})

		Convey("When the YAML file is malformed", func() {
			path := writeTempConfig(`addr: [unterminated`)
			defer func() { _ = os.Remove(path) }()
			_ = os.Setenv("OMR_CONFIG", path)
			defer clearConfigEnv()

			cfg, err := config.Load()

			Convey("Then loading fails with the load sentinel", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, config.ErrLoadConfig), ShouldBeTrue)
				So(cfg, ShouldBeNil)
			})
		})

		Convey("When the named config file does not exist", func() {
			_ = os.Setenv("OMR_CONFIG", "/nonexistent/omr.yaml")
			defer clearConfigEnv()

			cfg, err := config.Load()

			Convey("Then loading fails", func() {
				So(errors.Is(err, config.ErrLoadConfig), ShouldBeTrue)
				So(cfg, ShouldBeNil)
			})
		})

		Convey("When a numeric variable does not parse", func() {
			_ = os.Setenv("OMR_QUEUE_SIZE", "plenty")
			defer clearConfigEnv()

			cfg, err := config.Load()

			Convey("Then loading fails", func() {
				So(err, ShouldNotBeNil)
				So(cfg, ShouldBeNil)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given default configuration", t, func() {
		Convey("Then it validates", func() {
			So(config.New().Validate(), ShouldBeNil)
		})

		Convey("Then each broken field is rejected", func() {
			cases := []struct {
				name   string
				mutate func(*config.Config)
			}{
				{"empty addr", func(c *config.Config) { c.Addr = "" }},
				{"unknown log level", func(c *config.Config) { c.LogLevel = "loudest" }},
				{"unknown log format", func(c *config.Config) { c.LogFormat = "xml" }},
				{"empty data dir", func(c *config.Config) { c.DataDir = "" }},
				{"empty database path", func(c *config.Config) { c.DatabasePath = "" }},
				{"zero workers", func(c *config.Config) { c.WorkerCount = 0 }},
				{"zero queue", func(c *config.Config) { c.QueueSize = 0 }},
				{"zero audit capacity", func(c *config.Config) { c.AuditCapacity = 0 }},
				{"empty template", func(c *config.Config) { c.DefaultTemplate = "" }},
				{"floor above ceiling", func(c *config.Config) { c.FillFloor = 0.9 }},
				{"negative margin", func(c *config.Config) { c.SeparationMargin = -0.1 }},
				{"confidence above one", func(c *config.Config) { c.ClassifierMinConf = 1.5 }},
				{"tie band above one", func(c *config.Config) { c.TieBand = 2 }},
			}
			for _, tc := range cases {
				c := config.New()
				tc.mutate(c)
				err := c.Validate()
				So(err, ShouldNotBeNil)
				So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
			}
		})
	})
}

func clearConfigEnv() {
	for _, v := range []string{
		"OMR_CONFIG",
		"OMR_ADDR",
		"OMR_WORKER_COUNT",
		"OMR_QUEUE_SIZE",
		"OMR_FILL_CEILING",
		"OMR_OCR_ENABLED",
	} {
		_ = os.Unsetenv(v)
	}
}

func writeTempConfig(content string) string {
	f, err := os.CreateTemp("", "omr-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
	return f.Name()
}
