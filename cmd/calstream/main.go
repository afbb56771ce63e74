package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calstream/internal/config"
	"calstream/internal/ics"
	appLog "calstream/internal/log"
	"calstream/internal/model"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	source     string
	cacheDir   string
	once       bool
	expand     bool
	jsonOut    bool
	debug      bool
}

func main() {
	flags := parseFlags()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("calstream starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"refresh", conf.RefreshCron,
		"decode_policy", conf.Parser.DecodePolicy,
		"max_content_bytes", conf.Parser.MaxContentBytes,
		"max_stored_events", conf.Parser.MaxStoredEvents,
		"window_days", conf.Expand.WindowDays,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	fetcher := ics.NewFetcher(flags.cacheDir)
	expander := ics.NewExpander(conf.Expand)

	sources := configuredSources(conf)
	if flags.source != "" {
		sources = []ics.Source{{ID: "adhoc", URL: flags.source}}
	}
	if len(sources) == 0 {
		appLog.Info("no ICS sources configured; nothing to do")
		return
	}

	run := func() {
		runAll(ctx, fetcher, expander, conf, sources, flags)
	}

	if flags.once || flags.source != "" {
		run()
		return
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, run); err != nil {
		appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	run()

	<-ctx.Done()
	sched.Stop()
	appLog.Info("calstream exiting")
}

func runAll(ctx context.Context, fetcher *ics.Fetcher, expander *ics.Expander, conf *config.Config, sources []ics.Source, flags flagConfig) {
	opts := ics.Options{
		UserEmail:     conf.UserEmail,
		FollowPattern: conf.FollowPattern,
		Parser:        conf.Parser,
	}

	windowStart := time.Now().UTC()
	windowEnd := windowStart.AddDate(0, 0, conf.Expand.WindowDays)

	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}

		res, err := fetcher.ParseSource(ctx, src, opts)
		if err != nil {
			appLog.Error("source failed", err, "id", src.ID)
			continue
		}

		events := res.Events
		var expandWarnings []string
		if flags.expand {
			events, expandWarnings = expander.ExpandAll(events, windowStart, windowEnd)
		}

		if flags.jsonOut {
			writeJSON(res, events, expandWarnings)
			continue
		}

		appLog.Info("source processed",
			"id", src.ID,
			"success", res.Success,
			"events", len(events),
			"recurring", res.RecurringCount,
			"warnings", len(res.Warnings)+len(expandWarnings),
		)
	}
}

// writeJSON dumps the result to stdout without mutating the ParseResult.
func writeJSON(res *model.ParseResult, events []model.CalendarEvent, expandWarnings []string) {
	out := struct {
		*model.ParseResult
		Events         []model.CalendarEvent `json:"events"`
		ExpandWarnings []string              `json:"expand_warnings,omitempty"`
	}{
		ParseResult:    res,
		Events:         events,
		ExpandWarnings: expandWarnings,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		appLog.Error("json output failed", err)
	}
}

func configuredSources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, s := range conf.ICS {
		out = append(out, ics.Source{ID: s.ID, URL: s.URL})
	}
	return out
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calstream/config.yaml", "Path to config file")
	flag.StringVar(&cfg.source, "source", "", "Ad-hoc ICS URL or file path (overrides configured sources, implies -once)")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "Directory for the HTTP body cache")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+parse cycle and exit")
	flag.BoolVar(&cfg.expand, "expand", false, "Expand recurring events into occurrences")
	flag.BoolVar(&cfg.jsonOut, "json", false, "Write results as JSON to stdout")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
