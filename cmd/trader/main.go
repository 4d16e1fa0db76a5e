package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/core"
	"main/internal/history"
	"main/internal/ingest"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/strategy"
	"main/pkg/backoff"
	"main/pkg/conn"
)

const version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Intraday signal-to-order execution engine with integrated risk control",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution engine",
	RunE:  runEngine,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trader version %s\n", version)
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the order journal",
	RunE:  inspectJournal,
}

var syncDays int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download recent daily bars for the configured universe",
	RunE:  syncHistory,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "f", "trader.yaml", "path to YAML config file")
	journalCmd.Flags().StringVarP(&configPath, "config", "f", "trader.yaml", "path to YAML config file")
	syncCmd.Flags().StringVarP(&configPath, "config", "f", "trader.yaml", "path to YAML config file")
	syncCmd.Flags().IntVar(&syncDays, "days", 30, "how many calendar days back to sync")
	rootCmd.AddCommand(runCmd, versionCmd, journalCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	windows, err := cfg.Session.Parse()
	if err != nil {
		return err
	}

	if cfg.Ops.PyroscopeURL != "" {
		name := cfg.Ops.PyroscopeName
		if name == "" {
			name = "trader"
		}
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: name,
			ServerAddress:   cfg.Ops.PyroscopeURL,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hist *history.Store
	if cfg.History.Host != "" {
		db, err := conn.Open(conn.Option{
			Host:     cfg.History.Host,
			Port:     cfg.History.Port,
			User:     cfg.History.User,
			Password: cfg.History.Password,
			Database: cfg.History.Database,
			SSLMode:  cfg.History.SSLMode,
		})
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close(db) }()
		hist, err = history.NewStore(db)
		if err != nil {
			return err
		}
	}

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer jnl.Close()

	universe := make([]schema.Symbol, 0, len(cfg.Strategy.Universe))
	for _, s := range cfg.Strategy.Universe {
		universe = append(universe, schema.Symbol(s))
	}
	strat, err := strategy.New(cfg.Strategy.Name, strategy.Deps{
		History:  hist,
		Universe: universe,
		Params:   cfg.Strategy.Params,
	})
	if err != nil {
		return err
	}

	queue := bus.NewQueue(4096)
	board := ingest.NewBoard()
	ledger := state.NewLedger()
	metrics := obs.NewMetrics()
	gate := risk.NewGate(cfg.Limits())

	var feed ingest.Feed
	switch cfg.Feed.Mode {
	case "ws":
		feed = ingest.NewWSFeed(cfg.Feed.URL)
	default:
		feed = ingest.NewSimFeed()
	}

	broker := og.NewSimBroker(og.SimConfig{AutoFill: true}, queue)
	exec := og.NewExecutor(og.Config{
		MaxAttempts:   cfg.Broker.MaxAttempts,
		SubmitTimeout: cfg.Broker.SubmitTimeout,
		Backoff:       backoff.Policy{Min: cfg.Broker.BackoffMin, Max: cfg.Broker.BackoffMax},
		Metrics:       metrics,
		Journal:       jnl,
	}, broker, queue, ledger)

	engine, err := core.NewEngine(core.Config{
		Queue:    queue,
		Board:    board,
		Feed:     feed,
		Gate:     gate,
		Executor: exec,
		Ledger:   ledger,
		Strategy: strat,
		Metrics:  metrics,
		Windows:  windows,
	})
	if err != nil {
		return err
	}

	server := ops.NewServer(cfg.Ops.Addr, ledger, exec, metrics, cfg.Limits())
	go func() {
		if err := server.Start(); err != nil {
			logs.Errorf("status server: %v", err)
		}
	}()

	go publishDayResets(ctx, queue)

	go func() {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		engine.Drain(drainCtx)
	}()

	logs.Infof("trader %s starting: account=%s feed=%s strategy=%s",
		version, cfg.Account.ID, cfg.Feed.Mode, cfg.Strategy.Name)
	runErr := engine.Run(context.Background())

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil {
		logs.Warnf("status server shutdown: %v", err)
	}
	return runErr
}

// publishDayResets emits a DayReset event when the calendar date
// changes.
func publishDayResets(ctx context.Context, queue *bus.Queue) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	day := time.Now().Day()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d := time.Now().Day(); d != day {
				day = d
				_ = queue.TryPublish(bus.DayReset{})
			}
		}
	}
}

func syncHistory(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.History.Host == "" {
		return fmt.Errorf("history.host is not configured")
	}
	if cfg.History.BarsURL == "" {
		return fmt.Errorf("history.barsUrl is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := conn.Open(conn.Option{
		Host:     cfg.History.Host,
		Port:     cfg.History.Port,
		User:     cfg.History.User,
		Password: cfg.History.Password,
		Database: cfg.History.Database,
		SSLMode:  cfg.History.SSLMode,
	})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(db) }()
	store, err := history.NewStore(db)
	if err != nil {
		return err
	}

	from := time.Now().AddDate(0, 0, -syncDays)
	fromDay := from.Year()*10000 + int(from.Month())*100 + from.Day()
	dl := history.NewHTTPDownloader(cfg.History.BarsURL)
	return store.Sync(ctx, dl, cfg.Strategy.Universe, fromDay)
}

func inspectJournal(cmd *cobra.Command, args []string) error {
	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer jnl.Close()
	n, err := jnl.OrderCount()
	if err != nil {
		return err
	}
	fmt.Printf("journal %s: %d orders\n", cfg.Journal.Path, n)
	return nil
}
