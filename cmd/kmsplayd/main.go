// Command kmsplayd is the engine's process entrypoint: it loads the
// startup configuration, opens each configured stream, acquires the
// display, and runs the render loop until quit. Flag parsing and config
// discovery are the launcher's job per spec.md §1's "out of scope"
// list; this binary is a thin one, grounded on the teacher's
// cmd/oriond/main.go shape (flag.String for the config path, a text slog
// logger passed to the engine, os.Exit with a distinct code per failure
// class).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/e7canasta/kmsplay/internal/config"
	"github.com/e7canasta/kmsplay/internal/decode"
	"github.com/e7canasta/kmsplay/internal/kms"
	"github.com/e7canasta/kmsplay/internal/lifecycle"
	"github.com/e7canasta/kmsplay/internal/logging"
	"github.com/e7canasta/kmsplay/internal/render"
)

// Exit codes, per spec.md §6: "0 on clean quit; non-zero distinct codes
// for: configuration invalid, display acquisition failed, all streams
// broken, fatal signal."
const (
	exitOK                   = 0
	exitConfigurationInvalid = 1
	exitDisplayAcquireFailed = 2
	exitAllStreamsBroken     = 3
)

func main() {
	configPath := flag.String("config", "kmsplay.yaml", "path to the startup configuration file")
	devicePath := flag.String("device", "", "KMS device node (default: first /dev/dri/cardN found)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kmsplayd: configuration invalid: %v\n", err)
		os.Exit(exitConfigurationInvalid)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("kmsplayd starting", "config", *configPath, "sources", cfg.Sources)

	engine := lifecycle.New(cfg, logger)

	// Streams open before the display is acquired, so a bad source fails
	// with exitConfigurationInvalid rather than pointlessly touching KMS
	// first — spec.md §6's "display never acquired" case.
	for i, source := range cfg.Sources {
		if _, err := engine.AddStream(i, source); err != nil {
			logger.Error("failed to open stream", "index", i, "source", source, "error", err, "category", decode.Classify(err))
			engine.Shutdown()
			os.Exit(exitConfigurationInvalid)
		}
	}

	device := *devicePath
	if device == "" {
		device, err = kms.DefaultDevicePath()
		if err != nil {
			logger.Error("no kms device found", "error", err)
			engine.Shutdown()
			os.Exit(exitDisplayAcquireFailed)
		}
	}

	if err := engine.AcquireDisplay(device); err != nil {
		logger.Error("display acquisition failed", "error", err)
		engine.Shutdown()
		os.Exit(exitDisplayAcquireFailed)
	}

	if err := engine.Run(context.Background(), nil, nil); err != nil {
		if !errors.Is(err, render.ErrAllStreamsBroken) {
			logger.Error("engine run returned unexpected error", "error", err)
		}
		logger.Error("all streams broken, exiting")
		os.Exit(exitAllStreamsBroken)
	}

	logger.Info("kmsplayd exiting cleanly")
	os.Exit(exitOK)
}
