package ipifhub

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "ipifhub",
		Short: "ipifhub: IPIF factoid aggregation hub",
		Long: `ipifhub aggregates person, source, statement and factoid records
contributed by many IPIF repositories. Records that share an identifier URI
are merged into one entity in the hub's search index when no repository
filter is applied.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ipifhub.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("db-driver", "sqlite", "backing store (sqlite, postgres, memory)")
	rootCmd.PersistentFlags().String("db-uri", "./ipifhub.db", "SQLite file path or PostgreSQL DSN")
	rootCmd.PersistentFlags().String("index-backend", "memory", "search index (memory, neo4j)")
	rootCmd.PersistentFlags().String("queue-backend", "memory", "refresh queue (memory, badger)")
	rootCmd.PersistentFlags().String("queue-path", "./ipifhub_queue", "badger queue directory")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"database.driver": "db-driver",
		"database.uri":    "db-uri",
		"index.backend":   "index-backend",
		"queue.backend":   "queue-backend",
		"queue.path":      "queue-path",
	} {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".ipifhub" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ipifhub")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
