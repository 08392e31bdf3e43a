package main

import (
	"fmt"
	"os"

	"github.com/mohammad-safakhou/docrelay/config"
	"github.com/mohammad-safakhou/docrelay/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var root = &cobra.Command{
		Use:           "docrelay",
		Short:         "Document extraction relay with batch storage and question answering",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCMD(), migrateCMD(), extractCMD(), tokenCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config at cfgPath and builds the logger it describes.
func setup(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
