package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"CropDetServer/config"
	"CropDetServer/logger"
)

type rootOptions struct {
	configPath string
	dev        bool
	cfg        config.Config
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "cropdet",
		Short: "Crop disease detection server",
		Long: `cropdet serves crop disease detection over HTTP.

Images and video frames are run through the active detection model, boxes are
normalized to unit coordinates and results can be aggregated into a field report.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			_ = godotenv.Load()
			initLog := logger.InitProduction
			if opts.dev {
				initLog = logger.InitDevelopment
			}
			if err := initLog(); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.dev {
				cfg.Log.Development = true
			}
			if err := logger.Init(cfg.Log); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "Human readable console logs")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newModelsCmd(opts))
	return cmd
}
