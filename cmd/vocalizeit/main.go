// Command vocalizeit runs the reminder engine and serves its actions as an
// MCP server over stdio.
//
// Usage:
//
//	./vocalizeit                 # Start the engine and MCP server (stdio)
//	./vocalizeit -list           # Print upcoming reminders and history, then exit
//	./vocalizeit -config FILE    # Use a different config file
//
// Logs and alarms go to stderr; stdout belongs to the MCP transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/notexe/vocalizeit/internal/config"
	"github.com/notexe/vocalizeit/internal/delivery"
	"github.com/notexe/vocalizeit/internal/lifecycle"
	"github.com/notexe/vocalizeit/internal/reminder"
	"github.com/notexe/vocalizeit/internal/scheduler"
	mcpserver "github.com/notexe/vocalizeit/internal/server"
	"github.com/notexe/vocalizeit/internal/settings"
	"github.com/notexe/vocalizeit/internal/speech"
	"github.com/notexe/vocalizeit/internal/ui"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	list := flag.Bool("list", false, "Print reminders and exit")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	mute := flag.Bool("mute", false, "Disable speech")
	flag.Parse()

	log.SetOutput(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *noColor {
		cfg.UI.ColoredOutput = false
	}
	if *mute {
		cfg.Speech.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	loc, _ := cfg.Location()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	store, err := reminder.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	settingsCtl := settings.New(store)
	formatter := ui.NewFormatter(cfg.UI.ColoredOutput, loc)

	if *list {
		if err := printLists(store, settingsCtl, formatter); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var sinks []scheduler.Sink
	if cfg.Telegram.Enabled {
		sinks = append(sinks, scheduler.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	notifier := scheduler.NewLocalNotifier(sinks...)
	defer notifier.Close()

	sched := scheduler.New(notifier, cfg.Platform)
	ctl := lifecycle.New(store, sched, settingsCtl, lifecycle.Config{
		MissedAfter:       cfg.MissedAfter(),
		ReconcileInterval: cfg.Lifecycle.ReconcileInterval,
		Location:          loc,
	})

	var speaker speech.Speaker = speech.Nop{}
	if cfg.Speech.Enabled {
		speaker = speech.NewCommandSpeaker(cfg.Speech.Command)
	}
	defer speaker.Stop()

	alarms := ui.NewInterstitial(os.Stderr, formatter)

	handler := delivery.NewHandler(delivery.Config{
		Store:      store,
		Speaker:    speaker,
		Presenter:  alarms,
		Roller:     ctl,
		Tracker:    sched,
		Voice:      cfg.Voice(),
		PrimeDelay: cfg.PrimeDelay(),
	})
	handler.Attach(notifier)
	defer handler.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctl.Start(ctx); err != nil {
		log.Printf("[main] Error: startup: %v", err)
		if errors.Is(err, reminder.ErrStore) {
			os.Exit(1)
		}
	}

	go func() {
		if err := ctl.Run(ctx); err != nil {
			log.Printf("[main] Error: reconcile loop: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[main] Interrupted. Shutting down...")
		cancel()
	}()

	s := mcpserver.New(mcpserver.Deps{
		Reminders: ctl,
		Settings:  settingsCtl,
		Alarms:    alarms,
		Opener:    notifier,
		Pending:   notifier,
		Formatter: formatter,
	})

	log.Printf("[main] VocaliZeit ready. Store: %s", cfg.Store.Path)

	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printLists(store reminder.Store, settingsCtl *settings.Controller, formatter *ui.Formatter) error {
	ctx := context.Background()

	all, err := store.GetAll(ctx)
	if err != nil {
		return err
	}
	current, err := settingsCtl.Get(ctx)
	if err != nil {
		return err
	}

	fmt.Println(formatter.RenderList("Upcoming", reminder.Upcoming(all), current.Theme))
	fmt.Println()
	fmt.Println(formatter.RenderList("History", reminder.History(all), current.Theme))
	return nil
}
