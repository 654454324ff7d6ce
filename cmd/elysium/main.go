package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elysium-trading-go/internal/config"
	"elysium-trading-go/internal/exchange"
	"elysium-trading-go/internal/grid"
	"elysium-trading-go/internal/journal"
	"elysium-trading-go/internal/logger"
	"elysium-trading-go/internal/models"
	"elysium-trading-go/internal/reporter"
	"elysium-trading-go/internal/runtime"
	"elysium-trading-go/internal/strategy"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	mode := flag.String("mode", "live", "execution mode: live or paper")
	strategyID := flag.String("strategy", "", "strategy id to auto-start, overrides the config")
	testnet := flag.Bool("testnet", false, "force the exchange testnet")
	flag.Parse()

	// .env is optional; explicit environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *testnet {
		cfg.IsTestnet = true
	}
	if *strategyID != "" {
		cfg.Strategy = *strategyID
	}

	logger.InitLogger(cfg.LogConfig)
	log := logger.S()
	defer log.Sync()

	var connector exchange.Connector
	switch *mode {
	case "paper":
		connector = exchange.NewPaperExchange(log)
	case "live":
		connector = exchange.NewBinanceExchange(cfg.IsTestnet, log)
	default:
		log.Fatalw("unknown mode", "mode", *mode)
	}

	creds := models.Credentials{
		APIKey:    os.Getenv("ELYSIUM_API_KEY"),
		SecretKey: os.Getenv("ELYSIUM_SECRET_KEY"),
	}
	if err := connector.Connect(creds); err != nil {
		log.Fatalw("exchange connection failed", "error", err)
	}
	log.Infow("connector ready", "mode", *mode, "testnet", connector.IsTestnet())

	var recorder grid.Recorder
	var fillJournal *journal.Journal
	if cfg.JournalPath != "" {
		fillJournal, err = journal.Open(cfg.JournalPath, log)
		if err != nil {
			log.Fatalw("journal open failed", "path", cfg.JournalPath, "error", err)
		}
		defer fillJournal.Close()
		recorder = fillJournal
	}

	engine := grid.NewEngine(connector, recorder, grid.Options{
		MonitorInterval:   time.Duration(cfg.MonitorIntervalMs) * time.Millisecond,
		OrderPace:         time.Duration(cfg.OrderPaceMs) * time.Millisecond,
		PriceFailureLimit: cfg.PriceFailureLimit,
	}, log)

	registry := strategy.NewRegistry(strategy.Deps{
		Connector: connector,
		Grids:     engine,
		Config:    cfg,
		Logger:    log,
	}, time.Duration(cfg.StopWaitSec)*time.Second, log)

	if err := registry.Register(strategy.SequentialGridInfo(), strategy.NewSequentialGrid); err != nil {
		log.Fatalw("strategy registration failed", "error", err)
	}
	if err := registry.Register(strategy.PureMMInfo(), strategy.NewPureMM); err != nil {
		log.Fatalw("strategy registration failed", "error", err)
	}

	rt := runtime.New(engine, registry, log)
	fmt.Println(reporter.RenderStrategies(registry.List()))

	if cfg.Strategy != "" {
		resp := rt.StartStrategy(cfg.Strategy, cfg.StrategyParams)
		if resp.Status == models.StatusError {
			log.Fatalw("strategy auto-start failed", "strategy", cfg.Strategy, "message", resp.Message)
		}
		log.Infow("strategy auto-started", "strategy", cfg.Strategy)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("shutting down", "signal", sig)

	if registry.ActiveStrategy() != nil {
		rt.StopStrategy()
	}
	engine.StopAll()

	fmt.Println(reporter.RenderGridList(engine.ListGrids()))
	fmt.Println(reporter.RenderActiveStrategy(registry.ActiveStrategy()))

	if b, ok := connector.(*exchange.BinanceExchange); ok {
		b.Close()
	}
	log.Infow("shutdown complete")
}
