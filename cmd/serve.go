package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	srv "github.com/mohammad-safakhou/docrelay/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, cfg, logger)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	return serve
}
