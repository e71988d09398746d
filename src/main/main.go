package main

import (
	"context"
	"image"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screen-solver-llm/src/clipboard"
	"screen-solver-llm/src/config"
	"screen-solver-llm/src/eventloop"
	"screen-solver-llm/src/events"
	"screen-solver-llm/src/hotkey"
	"screen-solver-llm/src/llm"
	"screen-solver-llm/src/logutil"
	"screen-solver-llm/src/pipeline"
	"screen-solver-llm/src/screenshot"
	"screen-solver-llm/src/store"
	"screen-solver-llm/src/tray"
	"screen-solver-llm/src/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logutil.Setup(cfg.EnableFileLogging)
	log.Printf("Starting resident assistant (model=%s, key=%s)",
		cfg.Model, logutil.RedactKey(cfg.APIKey))

	client, err := llm.NewClient(llm.Config{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		ExtractModel: cfg.ExtractModel,
		Language:     cfg.Language,
		Providers:    cfg.Providers,
		Timeout:      time.Duration(cfg.APIDeadlineSec) * time.Second,
	})
	if err != nil {
		log.Fatalf("Analysis client unavailable: %v", err)
	}

	st, err := store.New(cfg.ScreenshotDir, cfg.MainQueueLimit, cfg.ExtraQueueLimit)
	if err != nil {
		log.Fatalf("Screenshot store unavailable: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Store cleanup failed: %v", err)
		}
	}()

	display, err := screenshot.PrimaryBounds()
	if err != nil {
		log.Printf("No display detected, using fallback bounds: %v", err)
		display = image.Rect(0, 0, 1920, 1080)
	}

	var copyText func(string) error
	if cfg.AutoCopySolution {
		if err := clipboard.Init(); err != nil {
			log.Printf("Clipboard unavailable, auto-copy disabled: %v", err)
		} else {
			copyText = clipboard.Write
		}
	}

	bus := events.NewBus()
	pipe := pipeline.New(st, client, bus)
	loop := eventloop.New(eventloop.Options{
		Pipeline: pipe,
		Store:    st,
		Window:   window.New(display),
		Bus:      bus,
		Deadline: time.Duration(cfg.APIDeadlineSec) * time.Second,
		SetBusy:  tray.SetBusy,
		CopyText: copyText,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
		tray.Quit()
	}()
	<-loop.Ready()

	bindHotkeys(cfg, loop)
	hotkey.Start()
	defer hotkey.Stop()

	// Blocks until Quit is chosen or the loop stops.
	tray.Run(func() { loop.Post(eventloop.Quit{}) })

	stop()
	if err := <-loopErr; err != nil && err != context.Canceled {
		log.Printf("Event loop stopped: %v", err)
	}
}

func bindHotkeys(cfg *config.Config, loop *eventloop.Loop) {
	bind := func(combo string, cmd eventloop.Command) {
		if err := hotkey.Bind(combo, func() { loop.Post(cmd) }); err != nil {
			log.Printf("Hotkey %q not bound: %v", combo, err)
		}
	}
	bind(cfg.CaptureHotkey, eventloop.Capture{})
	bind(cfg.ProcessHotkey, eventloop.Process{})
	bind(cfg.ResetHotkey, eventloop.ResetAll{})
	bind(cfg.ToggleHotkey, eventloop.ToggleWindow{})

	bind("Ctrl+Alt+Left", eventloop.MoveWindow{Dir: window.Left})
	bind("Ctrl+Alt+Right", eventloop.MoveWindow{Dir: window.Right})
	bind("Ctrl+Alt+Up", eventloop.MoveWindow{Dir: window.Up})
	bind("Ctrl+Alt+Down", eventloop.MoveWindow{Dir: window.Down})
}
