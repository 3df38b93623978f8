package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/feedview/feedview/pkg/config"
	"github.com/feedview/feedview/pkg/feed"
	"github.com/feedview/feedview/pkg/reload"
	"github.com/feedview/feedview/pkg/repository"
	"github.com/feedview/feedview/pkg/schedule"
	"github.com/feedview/feedview/pkg/tree"
	"github.com/feedview/feedview/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" description:"config file (yaml)"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address, overrides config"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug, opts.NoColor)

	log.Printf("[INFO] starting feedview version %s", revision)

	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			log.Printf("[ERROR] can't load config %s: %v", opts.Config, err)
			os.Exit(1)
		}
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	log.Print("[INFO] shutdown complete")
}

// run wires all the pieces together and blocks until the context is done
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("setup database: %w", err)
	}
	defer repos.Close()

	rcfg := cfg.GetReloadConfig()

	hub := server.NewHub()
	treeSvc := tree.NewService(repos.Tree, repos.Content, hub)
	fetcher := feed.NewParser(rcfg.HTTPTimeout, rcfg.UserAgent)

	reloader := reload.NewReloader(fetcher, repos.Content, treeSvc, hub, reload.Config{
		FeedTimeout: rcfg.FeedTimeout,
		DefaultLane: rcfg.DefaultLane,
	})
	sched := schedule.NewScheduler(treeSvc, reloader, schedule.Config{
		DefaultIntervalMins: rcfg.DefaultIntervalMins,
		SweepInterval:       rcfg.SweepInterval,
		DefaultLane:         rcfg.DefaultLane,
	})

	// the reloader, scheduler and tree reference each other; late binding
	// breaks the construction cycle
	reloader.SetRescheduler(sched)
	treeSvc.SetTimerReconciler(sched)

	if err := treeSvc.Load(ctx); err != nil {
		return fmt.Errorf("load feed tree: %w", err)
	}

	sched.Reconcile()
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg, treeSvc, repos.Content, reloader, hub, revision, debug)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = append(logOpts, lgr.Debug)
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}

	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
