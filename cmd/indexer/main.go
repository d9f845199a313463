package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/clients/evm"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/clients/redis"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/cmd/indexer/httpjson"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/http"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/services"
)

type flagSet struct {
	LogJSON  bool
	LogLevel string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "indexer:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags flagSet

	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Records gas prices and bridge requests of BridgeWhenCheap chains",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags.logger())
		},
	}

	root.PersistentFlags().BoolVar(&flags.LogJSON, "log-json", false, "Output logs in JSON format")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "Set log level (debug, info, warn, error)")

	root.AddCommand(newStatusCommand(&flags))

	return root
}

func (f *flagSet) logger() zerolog.Logger {
	return logging.New(os.Stdout, logging.ParseLevel(f.LogLevel), f.LogJSON)
}

func run(ctx context.Context, log zerolog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load config")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Initializing database connection")
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return err
	}

	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	if err := database.InitChains(ctx, cfg.ChainIDs()); err != nil {
		log.Error().Err(err).Msg("Failed to initialize chain tables")
		return err
	}

	log.Info().Msg("Database connection established successfully")

	clients, err := evm.ResolveClientsFromConfig(ctx, *cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Ethereum clients")
		return err
	}

	predictions := services.NewPredictionCache()
	metricsService := services.NewMetricsService(database, log)
	sinks := []services.PredictionSink{predictions, metricsService}

	if cfg.RedisURL != "" {
		publisher, err := redis.NewPredictionPublisher(cfg.RedisURL, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to Redis")
			return err
		}
		defer publisher.Close()

		sinks = append(sinks, publisher)
	}

	pipelines, err := createPipelines(cfg, clients, database, sinks, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create chain pipelines")
		return err
	}

	byChain := make(map[uint64]httpjson.Pipeline, len(pipelines))
	for _, pipeline := range pipelines {
		metricsService.RegisterPipeline(pipeline)
		byChain[pipeline.ChainID()] = pipeline
	}

	metricsService.StartMetricsUpdater(ctx)
	log.Info().Msg("Started Prometheus metrics service")

	server := httpjson.New(httpjson.Config{
		Addr:           fmt.Sprintf(":%s", cfg.Port),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
		LogRequests:    false,
		Dependencies: httpjson.Dependencies{
			Database:    database,
			Pipelines:   byChain,
			Predictions: predictions,
			Metrics:     metricsService,
		},
	})

	serverShutdown := http.StartAsync(server, log)

	// returns once the signal arrives, every chain has stopped or a chain is misconfigured
	pipelinesErr := services.RunPipelines(ctx, pipelines, log)

	log.Info().Msg("Shutting down")
	serverShutdown(context.Background())

	if pipelinesErr != nil {
		return errors.Wrap(pipelinesErr, "chain pipelines failed")
	}

	log.Info().Msg("All services shut down successfully")

	return nil
}

// createPipelines builds one pipeline per configured chain in chain id order.
func createPipelines(
	cfg *config.Config,
	clients map[uint64]*evm.RateLimitedClient,
	database db.Database,
	sinks []services.PredictionSink,
	logger zerolog.Logger,
) ([]*services.ChainPipeline, error) {
	pipelines := make([]*services.ChainPipeline, 0, len(cfg.ChainConfigs))

	for _, chainID := range cfg.ChainIDs() {
		client, ok := clients[chainID]
		if !ok {
			return nil, errors.Errorf("no client for chain %d", chainID)
		}

		chain := services.NewChainContext(*cfg.ChainConfigs[chainID], client, database, logger)

		pipeline, err := services.NewChainPipeline(chain, sinks...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create pipeline for chain %d", chainID)
		}

		pipelines = append(pipelines, pipeline)
	}

	return pipelines, nil
}
