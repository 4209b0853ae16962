package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planfuzz/internal/config"
	"planfuzz/internal/db"
	"planfuzz/internal/domain"
	"planfuzz/internal/engine"
	"planfuzz/internal/generator"
	"planfuzz/internal/oracle"
	"planfuzz/internal/runinfo"
	"planfuzz/internal/runner"
	"planfuzz/internal/schema"
	"planfuzz/internal/uploader"
	"planfuzz/internal/util"
	"planfuzz/internal/validator"

	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fail("invalid config: %v", err)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	util.SetVerbose(cfg.Logging.Verbose)
	if cfg.Logging.LogFile != "" {
		closer, err := util.SetLogFile(cfg.Logging.LogFile)
		if err != nil {
			fail("failed to open log file: %v", err)
		}
		defer util.CloseWithErr(closer, "log file")
	}
	if data, err := yaml.Marshal(&cfg); err == nil {
		util.Highlightf("config:\n%s", string(data))
	}

	if err := run(cfg); err != nil {
		fail("run failed: %v", err)
	}
}

func run(cfg config.Config) error {
	s, err := schema.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return err
	}
	templates, err := schema.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		return err
	}
	if err := schema.Validate(s, templates); err != nil {
		return err
	}
	util.Infof("loaded %d table(s) and %d template(s) seed=%d", len(s), len(templates), cfg.Seed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reference, err := db.OpenReference(ctx, cfg.Reference)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(reference, "reference pool")
	analytical, err := db.OpenAnalytical(ctx, cfg.Analytical)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(analytical, "analytical handle")

	up, err := uploader.New(cfg.Storage)
	if err != nil {
		return err
	}
	cache := domain.New(analytical)
	r, err := runner.New(cfg, runner.Deps{
		Generator: generator.New(cfg.Generation, s, templates, cache, cfg.Seed),
		Validator: validator.New(),
		Explainer: oracle.NewPlanOracle(reference, cfg.Reference),
		Gate:      oracle.NewCardinalityGate(cfg.Analytical, nil),
		Engine:    engine.New(cfg.Engine, nil),
		Uploader:  up,
		RunInfo:   runinfo.FromEnv(),
	})
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
