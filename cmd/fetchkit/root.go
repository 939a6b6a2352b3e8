package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "fetchkit",
		Short: "A resilient multi-mirror file acquisition tool",
		Long: `fetchkit acquires files from remote resources over HTTP(S) and S3,
choosing among weighted mirrors and falling back automatically on failure.

Features:
  • Priority-scheduled concurrent downloads
  • Weighted mirror selection with bounded retry
  • Local cache with freshness checks
  • Session progress recorded in checkpoints`,
		Version: "0.1.0",
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.fetchkit/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = false
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		configDir := filepath.Join(home, ".fetchkit")
		viper.AddConfigPath(configDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")

		if _, err := os.Stat(configDir); os.IsNotExist(err) {
			os.MkdirAll(configDir, 0o750)
		}
	}

	viper.SetEnvPrefix("FETCHKIT")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}
