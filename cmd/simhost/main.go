package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/scriptbridge/bridge"
	"github.com/wippyai/scriptbridge/config"
	"github.com/wippyai/scriptbridge/history"
	"github.com/wippyai/scriptbridge/hook"
	"github.com/wippyai/scriptbridge/internal/logging"
	"github.com/wippyai/scriptbridge/server"
	"github.com/wippyai/scriptbridge/simhost"
)

func main() {
	var (
		configPath = flag.String("config", config.FileName, "Configuration file")
		port       = flag.Int("port", 0, "Override the configured port")
		client     = flag.Bool("network-client", false, "Simulate a network client instead of the host")
		replay     = flag.Bool("replay", false, "Simulate replay playback")
		league     = flag.String("league", "", "Simulate a league game with this server address")
		leaf       = flag.Bool("leaf-reporter", false, "Map the error reporter as an unhookable leaf function")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := hostState{networkClient: *client, replay: *replay, league: *league}
	if err := run(ctx, cfg, simhost.Options{LeafErrorReporter: *leaf}, state); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type hostState struct {
	networkClient bool
	replay        bool
	league        string
}

func run(ctx context.Context, cfg *config.Config, opts simhost.Options, state hostState) error {
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logging.Install(log)
	simhost.SetLogger(log.Named("simhost"))

	host := simhost.New(opts)
	defer host.Close()
	if state.networkClient {
		host.SetNetwork(true, false)
	}
	if state.replay {
		host.SetReplay(true)
	}
	if state.league != "" {
		host.SetLeagueAddress(state.league)
	}

	b, err := bridge.Open(bridge.Platform{
		Memory:    host.Arena,
		Caller:    host.Machine,
		Callbacks: host.Machine,
		Code:      host.Arena,
		Threads:   []hook.Thread{host.MainThread()},
		Symbols:   host.Image,
		Locator:   host.Image,
		Module:    host.Module(),
		Marshaler: host.Loop,
	}, bridgeOptions(cfg))
	if err != nil {
		return fmt.Errorf("open bridge: %w", err)
	}
	defer b.Close()

	srvOpts := []server.Option{server.WithRequestTimeout(cfg.RequestTimeout.Duration)}
	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer store.Close()
		srvOpts = append(srvOpts, server.WithHistory(store))
	}
	srv := server.New(b, srvOpts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Addr())
	})
	log.Info("simulated host running",
		zap.String("addr", cfg.Addr()),
		zap.String("module", host.Module().Name))
	return g.Wait()
}

func bridgeOptions(cfg *config.Config) bridge.Options {
	opts := bridge.DefaultOptions()
	opts.ContextTag = cfg.ContextTag
	opts.CaptureParseErrors = cfg.CaptureParseErrors
	opts.RetiredShims = cfg.RetiredShims
	return opts
}
