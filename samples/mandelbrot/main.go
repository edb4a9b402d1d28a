package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/vkngwrapper/presentloop/frameloop"
	"github.com/vkngwrapper/presentloop/renderer"
)

func run(cfg renderer.Config) error {
	err := cfg.Validate()
	if err != nil {
		return err
	}

	device, err := renderer.OpenDevice(cfg, nil)
	if err != nil {
		return err
	}
	defer device.Close()

	img, err := device.RenderMandelbrot()
	if err != nil {
		return err
	}

	err = renderer.WritePNG(cfg.ImagePath, img)
	if err != nil {
		return err
	}

	log.Printf("wrote %s", cfg.ImagePath)
	return nil
}

func main() {
	cfg := renderer.DefaultConfig()
	cfg.RegisterFlags(flag.CommandLine)
	verbose := flag.Bool("v", false, "Log debug output")
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
