package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/abi"
	"github.com/0xmhha/chainwatch/api"
	"github.com/0xmhha/chainwatch/client"
	"github.com/0xmhha/chainwatch/events"
	"github.com/0xmhha/chainwatch/fetch"
	"github.com/0xmhha/chainwatch/internal/config"
	"github.com/0xmhha/chainwatch/internal/constants"
	"github.com/0xmhha/chainwatch/internal/logger"
	"github.com/0xmhha/chainwatch/monitor"
	"github.com/0xmhha/chainwatch/pkg/eventbus"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

const metricsNamespace = "chainwatch"

// flagOverrides carries command-line values that win over file and env
type flagOverrides struct {
	rpcEndpoint string
	logLevel    string
	logFormat   string
	contract    string
	abiPath     string
	capacity    int
	backfill    uint64
	noTxs       bool
	noTransfers bool

	enableAPI bool
	apiHost   string
	apiPort   int
}

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		o           flagOverrides
	)
	flag.StringVar(&o.rpcEndpoint, "rpc", "", "Ethereum RPC endpoint URL (ws:// for live heads)")
	flag.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&o.logFormat, "log-format", "", "Log format (json, console)")
	flag.StringVar(&o.contract, "contract", "", "Token contract whose transfers are followed")
	flag.StringVar(&o.abiPath, "abi", "", "Path to the token ABI JSON (defaults to ERC-20)")
	flag.IntVar(&o.capacity, "capacity", 0, "Number of records kept per view")
	flag.Uint64Var(&o.backfill, "backfill-blocks", 0, "Blocks scanned behind the head on startup")
	flag.BoolVar(&o.noTxs, "no-transactions", false, "Disable the transactions feed")
	flag.BoolVar(&o.noTransfers, "no-transfers", false, "Disable the transfers feed")
	flag.BoolVar(&o.enableAPI, "api", false, "Enable API server")
	flag.StringVar(&o.apiHost, "api-host", "", "API server host")
	flag.IntVar(&o.apiPort, "api-port", 0, "API server port")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chainwatch version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting chainwatch",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.Bool("transactions", cfg.Watch.EnableTransactions),
		zap.Bool("transfers", cfg.Watch.EnableTransfers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	node, err := client.NewClient(&client.Config{
		Endpoint: cfg.RPC.Endpoint,
		Timeout:  cfg.RPC.Timeout,
		Logger:   log,
	})
	if err != nil {
		log.Fatal("Failed to connect to node", zap.Error(err))
	}
	defer node.Close()

	chainID, err := node.GetChainID(ctx)
	if err != nil {
		log.Fatal("Failed to get chain ID", zap.Error(err))
	}
	log.Info("Connected to node", zap.String("chain_id", chainID.String()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eventBus := events.NewEventBus(cfg.EventBus.PublishBufferSize, cfg.EventBus.SubscribeBufferSize)
	eventBus.SetMetrics(events.NewMetrics(reg, metricsNamespace, "eventbus"))
	go eventBus.Run()
	defer eventBus.Stop()

	decoder, err := newDecoder(cfg)
	if err != nil {
		log.Fatal("Failed to load token ABI", zap.Error(err))
	}

	mon, err := monitor.New(node, decoder, &monitor.Config{
		EnableTransactions: cfg.Watch.EnableTransactions,
		EnableTransfers:    cfg.Watch.EnableTransfers,
		Capacity:           cfg.Watch.Capacity,
		BackfillBlocks:     cfg.Watch.BackfillBlocks,
		PollInterval:       cfg.Watch.PollInterval,
		ResolveTimeout:     cfg.Watch.ResolveTimeout,
		ContractAddress:    cfg.Watch.Contract(),
		EventName:          cfg.Watch.EventName,
		AmountArg:          cfg.Watch.AmountArg,
	}, log, eventBus)
	if err != nil {
		log.Fatal("Failed to create monitor", zap.Error(err))
	}
	mon.SetMetrics(fetch.NewMetrics(reg, metricsNamespace), events.NewIngestMetrics(reg, metricsNamespace))

	forwarder, err := startForwarder(ctx, cfg, eventBus, reg, log)
	if err != nil {
		log.Fatal("Failed to start sinks", zap.Error(err))
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(apiConfig(cfg), log, mon, eventBus, reg)
		if err != nil {
			log.Fatal("Failed to create API server", zap.Error(err))
		}
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()
	}

	// A feed that fails to start is reported through its status and the
	// other feed keeps running.
	if err := mon.Start(ctx); err != nil {
		log.Error("Monitor started with errors", zap.Error(err))
	}

	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	log.Info("Shutting down gracefully...")

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}

	mon.Stop()
	if forwarder != nil {
		forwarder.Stop()
	}

	totalEvents, totalDeliveries, dropped := eventBus.Stats()
	log.Info("Final statistics",
		zap.Int("transactions", len(mon.Transactions())),
		zap.Int("transfers", len(mon.Transfers())),
		zap.Uint64("events_published", totalEvents),
		zap.Uint64("events_delivered", totalDeliveries),
		zap.Uint64("events_dropped", dropped),
	)
	log.Info("chainwatch stopped")
}

// loadConfig layers defaults, file, .env/environment and flags, then validates
func loadConfig(configFile string, o flagOverrides) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyFlags(cfg, o)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, o flagOverrides) {
	if o.rpcEndpoint != "" {
		cfg.RPC.Endpoint = o.rpcEndpoint
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.contract != "" {
		cfg.Watch.ContractAddress = o.contract
	}
	if o.abiPath != "" {
		cfg.Watch.ABIPath = o.abiPath
	}
	if o.capacity > 0 {
		cfg.Watch.Capacity = o.capacity
	}
	if o.backfill > 0 {
		cfg.Watch.BackfillBlocks = o.backfill
	}
	if o.noTxs {
		cfg.Watch.EnableTransactions = false
	}
	if o.noTransfers {
		cfg.Watch.EnableTransfers = false
	}
	if o.enableAPI {
		cfg.API.Enabled = true
	}
	if o.apiHost != "" {
		cfg.API.Host = o.apiHost
	}
	if o.apiPort > 0 {
		cfg.API.Port = o.apiPort
	}
}

func newDecoder(cfg *config.Config) (*abi.Decoder, error) {
	decoder := abi.NewDecoder()
	if !cfg.Watch.EnableTransfers {
		return decoder, nil
	}
	return decoder, decoder.LoadABIFile(cfg.Watch.Contract(), "token", cfg.Watch.ABIPath)
}

func apiConfig(cfg *config.Config) *api.Config {
	c := api.DefaultConfig()
	c.Host = cfg.API.Host
	c.Port = cfg.API.Port
	c.EnableGraphQL = cfg.API.EnableGraphQL
	c.EnableWebSocket = cfg.API.EnableWebSocket
	c.EnableCORS = cfg.API.EnableCORS
	if len(cfg.API.AllowedOrigins) > 0 {
		c.AllowedOrigins = cfg.API.AllowedOrigins
	}
	c.EnableRateLimit = cfg.API.EnableRateLimit
	if cfg.API.RateLimitPerSecond > 0 {
		c.RateLimitPerSecond = cfg.API.RateLimitPerSecond
	}
	if cfg.API.RateLimitBurst > 0 {
		c.RateLimitBurst = cfg.API.RateLimitBurst
	}
	return c
}

// startForwarder connects the configured sinks and subscribes them to the bus.
// It returns nil when no sink is enabled.
func startForwarder(ctx context.Context, cfg *config.Config, bus *events.EventBus, reg prometheus.Registerer, log *zap.Logger) (*eventbus.Forwarder, error) {
	var sinks []eventbus.Sink

	if cfg.Sinks.Redis.Enabled {
		redisSink, err := eventbus.NewRedisSink(eventbus.RedisConfig{
			Addr:          cfg.Sinks.Redis.Addr,
			Password:      cfg.Sinks.Redis.Password,
			DB:            cfg.Sinks.Redis.DB,
			ChannelPrefix: cfg.Sinks.Redis.ChannelPrefix,
		}, log)
		if err != nil {
			return nil, err
		}
		connectCtx, connectCancel := context.WithTimeout(ctx, constants.DefaultSinkTimeout)
		err = redisSink.Connect(connectCtx)
		connectCancel()
		if err != nil {
			_ = redisSink.Close()
			return nil, err
		}
		sinks = append(sinks, redisSink)
	}

	if cfg.Sinks.Kafka.Enabled {
		kafkaSink, err := eventbus.NewKafkaSink(eventbus.KafkaConfig{
			Brokers:  cfg.Sinks.Kafka.Brokers,
			Topic:    cfg.Sinks.Kafka.Topic,
			ClientID: cfg.Sinks.Kafka.ClientID,
		}, log)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}

	if len(sinks) == 0 {
		return nil, nil
	}

	forwarder := eventbus.NewForwarder(bus, sinks, constants.DefaultSinkTimeout, log)
	forwarder.SetMetrics(eventbus.NewMetrics(reg))
	if err := forwarder.Start(ctx, cfg.EventBus.SubscribeBufferSize); err != nil {
		return nil, err
	}
	return forwarder, nil
}
