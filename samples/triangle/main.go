package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/vkngwrapper/presentloop/frameloop"
	"github.com/vkngwrapper/presentloop/renderer"
)

func run(cfg renderer.Config) error {
	window, err := renderer.OpenWindow(cfg)
	if err != nil {
		return err
	}
	defer window.Close()

	r, err := renderer.New(cfg, window)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := frameloop.NewState(window.DrawableSize())
	state.Hidden = window.Minimized()

	scheduler := frameloop.New(r, r)
	err = scheduler.Run(ctx, state, window)

	stats := scheduler.Stats()
	log.Printf("presented %d frames, %d rebuilds, %d out of date", stats.Frames, stats.Rebuilds, stats.OutOfDate)
	return err
}

func main() {
	runtime.LockOSThread()

	cfg := renderer.DefaultConfig()
	cfg.RegisterFlags(flag.CommandLine)
	verbose := flag.Bool("v", false, "Log frame loop debug output")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	frameloop.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	err := run(cfg)
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}
