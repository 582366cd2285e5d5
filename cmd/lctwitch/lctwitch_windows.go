package main

import "C"

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/bridge"
	"github.com/wippyai/scriptbridge/config"
	"github.com/wippyai/scriptbridge/history"
	"github.com/wippyai/scriptbridge/hook"
	"github.com/wippyai/scriptbridge/internal/logging"
	"github.com/wippyai/scriptbridge/locate"
	"github.com/wippyai/scriptbridge/mainthread"
	"github.com/wippyai/scriptbridge/native"
	"github.com/wippyai/scriptbridge/server"
	"github.com/wippyai/scriptbridge/symbols"
)

const (
	windowWait   = 30 * time.Second
	windowPoll   = 250 * time.Millisecond
	hostExitPoll = 500 * time.Millisecond
)

var stop context.CancelFunc

func init() {
	var ctx context.Context
	ctx, stop = context.WithCancel(context.Background())
	go func() {
		if err := start(ctx); err != nil {
			report(err)
		}
	}()
}

// LCTwitchShutdown stops the server and removes the bridge.
//
//export LCTwitchShutdown
func LCTwitchShutdown() {
	stop()
}

// report shows an initialization failure to the player.
func report(err error) {
	text, _ := windows.UTF16PtrFromString(err.Error())
	caption, _ := windows.UTF16PtrFromString("LCTwitch")
	_, _ = windows.MessageBox(0, text, caption, windows.MB_OK|windows.MB_ICONERROR)
}

func start(ctx context.Context) error {
	module, err := native.CurrentModule()
	if err != nil {
		return err
	}
	cfg, err := config.Load(filepath.Join(filepath.Dir(module.Path), config.FileName))
	if err != nil {
		return err
	}
	cfg.ApplyPortStore(config.SystemPortStore())

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logging.Install(log)

	hwnd, err := waitForWindow(ctx, cfg.WindowClass)
	if err != nil {
		return err
	}
	win, err := mainthread.Subclass(hwnd)
	if err != nil {
		return fmt.Errorf("subclass main window: %w", err)
	}
	defer win.Close()

	mainThread, err := hook.OpenThread(win.ThreadID())
	if err != nil {
		return fmt.Errorf("open main thread: %w", err)
	}
	defer mainThread.Close()

	session, err := symbols.Open()
	if err != nil {
		return fmt.Errorf("debug symbols: %w", err)
	}

	mem := native.Process{}
	exports := locate.NewExports(mem)
	if base, err := locate.LoadedModule(bridge.DefaultOptions().CRTModule); err == nil {
		exports.Add(bridge.DefaultOptions().CRTModule, base)
	}

	opts := bridge.DefaultOptions()
	opts.ContextTag = cfg.ContextTag
	opts.CaptureParseErrors = cfg.CaptureParseErrors
	opts.RetiredShims = cfg.RetiredShims

	b, err := bridge.Open(bridge.Platform{
		Memory:    mem,
		Caller:    native.Win64{},
		Callbacks: native.Win64{},
		Code:      hook.ProcessCode{Process: mem},
		Threads:   []hook.Thread{mainThread},
		Symbols:   session,
		Locator:   locate.Chain{locate.DbgHelp{Session: session}, exports},
		Module:    module,
		Marshaler: win,
	}, opts)
	if err != nil {
		return fmt.Errorf("initialize script bridge: %w", err)
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
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Addr())
	})
	g.Go(func() error {
		defer cancel()
		waitForExit(ctx, mainThread.Handle())
		log.Info("host main thread exited")
		return nil
	})
	log.Info("lctwitch running",
		zap.String("addr", cfg.Addr()),
		zap.String("module", module.Name),
		zap.Uint32("main_thread", win.ThreadID()))
	return g.Wait()
}

// waitForWindow polls for the game's main window.
func waitForWindow(ctx context.Context, class string) (windows.HWND, error) {
	deadline := time.Now().Add(windowWait)
	for {
		hwnd, err := mainthread.FindWindow(class)
		if err == nil {
			return hwnd, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("could not find the %s window: %w", class, err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(windowPoll):
		}
	}
}

// waitForExit returns when the thread behind h exits or ctx ends.
func waitForExit(ctx context.Context, h windows.Handle) {
	for ctx.Err() == nil {
		ev, err := windows.WaitForSingleObject(h, uint32(hostExitPoll/time.Millisecond))
		if err != nil || ev == windows.WAIT_OBJECT_0 {
			return
		}
	}
}
