package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/catalogfi/xswap/daemon"
	"github.com/catalogfi/xswap/pkg/process"
	"github.com/catalogfi/xswap/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const uid = "xswapd"

var BinaryVersion = "undefined"

func main() {
	var (
		configPath string
		simulate   bool
	)
	cmd := &cobra.Command{
		Use:          uid,
		Short:        "xswapd - cross-chain swap coordinator daemon",
		Version:      BinaryVersion,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			return run(configPath, simulate)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&configPath, "config", utils.DefaultConfigPath(), "path to the config file")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run against simulated chains")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run reports startup failures on stdout, where the process manager of the
// cli reads them.
func run(configPath string, simulate bool) error {
	if err := utils.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stdout, "could not create directories, %v", err)
		return err
	}
	envConfig, err := utils.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stdout, "could not load config, %v", err)
		return err
	}

	logger, err := process.WithSentry(process.NewFileLogger(uid), envConfig.Sentry)
	if err != nil {
		fmt.Fprintf(os.Stdout, "could not attach sentry, %v", err)
		return err
	}
	defer logger.Sync()

	pidManager := process.NewPidManager(uid)
	if err := pidManager.Write(); err != nil {
		fmt.Fprintf(os.Stdout, "failed to write pid file, %v", err)
		return err
	}
	defer func() {
		if err := pidManager.Remove(); err != nil {
			logger.Error("failed to delete pid file", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	d, err := daemon.New(ctx, envConfig, simulate, logger)
	if err != nil {
		fmt.Fprintf(os.Stdout, "could not start daemon, %v", err)
		return err
	}
	defer d.Close()

	err = d.Run(ctx, func() {
		logger.Info("started", zap.String("rpc", envConfig.RPCServer), zap.Bool("simulate", simulate))
		fmt.Fprint(os.Stdout, process.DefaultSuccessfulMsg)
	})
	if err != nil {
		logger.Error("daemon stopped", zap.Error(err))
		return err
	}
	logger.Info("stopped")
	return nil
}
