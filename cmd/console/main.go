package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockpick/tracker/internal/config"
	"github.com/lockpick/tracker/internal/engine"
	"github.com/lockpick/tracker/internal/loader"
	"github.com/lockpick/tracker/internal/logger"
	"github.com/lockpick/tracker/internal/proxy"
	"github.com/lockpick/tracker/internal/transport"
	"github.com/lockpick/tracker/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <rulepack.json>\n", os.Args[0])
		os.Exit(1)
	}
	packPath := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// The TUI owns stdout; keep everything but errors out of it unless the
	// user explicitly asked for more.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = slog.LevelError
	}
	logg := logger.Setup(cfg)

	result, err := loader.LoadPack(packPath, logg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load rule pack: %v\n", err)
		os.Exit(1)
	}

	// Remote mode talks to a trackerd daemon; otherwise the engine runs on a
	// background goroutine in this process, connected by an in-process pair.
	var tr transport.Transport
	if url := os.Getenv("TRACKER_URL"); url != "" {
		tr, err = transport.Dial(url, logg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not connect to %s: %v\nIs trackerd running?\n", url, err)
			os.Exit(1)
		}
	} else {
		engineSide, proxySide := transport.Pair()
		runner := engine.NewRunner(engine.New(logg, result.Registry), engineSide, logg)
		go func() {
			_ = runner.Run(context.Background())
		}()
		tr = proxySide
	}

	p := proxy.New(tr, logg, proxy.WithQueryTimeout(cfg.QueryTimeout))
	defer func() { _ = p.Close() }()

	player := getEnv("TRACKER_PLAYER", "player1")
	if err := p.LoadRules(result.Raw, protocol.PlayerInfo{Player: player, Game: result.Pack.Game}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load rules: %v\n", err)
		os.Exit(1)
	}

	readyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.EnsureReady(readyCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Engine never became ready: %v\n", err)
		os.Exit(1)
	}

	prog := tea.NewProgram(NewTrackerUI(p),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := prog.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
