package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/config"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator"
)

var (
	cfgFile string
	logger  *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mosaicd",
	Short: "MosaicDB Coordinator",
	Long: `MosaicDB coordinator accepts hybrid search and analytical queries,
routes them to the relevant embedded shards, and merges the results.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initLogger)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/mosaicdb/coordinator.yaml)")
}

func initLogger() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer logger.Sync()

	cfg, err := config.LoadCoordinatorConfig(cfgFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting MosaicDB coordinator",
		zap.String("node_id", cfg.NodeID),
		zap.String("bind_addr", cfg.BindAddr),
		zap.Int("rest_port", cfg.RESTPort),
		zap.String("storage_root", cfg.StorageRoot),
	)

	node, err := coordinator.NewCoordinatorNode(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create coordinator node", zap.Error(err))
	}

	if err := node.Start(ctx); err != nil {
		logger.Fatal("Failed to start coordinator node", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal, stopping coordinator...")

	if err := node.Stop(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return err
	}

	logger.Info("Coordinator stopped successfully")
	return nil
}
