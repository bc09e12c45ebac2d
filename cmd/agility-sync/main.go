package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agility-sync/internal/config"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "agility-sync",
		Short:        "Offline-first sync service for agility drill sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newCoursesCmd(),
		newResetCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("remote.url"), "Remote store base URL (empty disables sync)")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between sync passes")
	cmd.PersistentFlags().Int("sync-max-attempts", defaults.GetInt("sync.max_attempts"), "Failed attempts before a session is parked")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "sync.max_attempts", "sync-max-attempts")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("agility-sync")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
