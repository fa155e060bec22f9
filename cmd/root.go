// Package cmd provides the inkwell command-line interface.
//
// Configuration resolves from several sources with clear precedence:
//  1. Command-line flags (--port, --log-level, ...) highest priority
//  2. INKWELL_CONFIG_FILE environment variable, a custom config file path
//  3. Individual environment variables (INKWELL_SERVER_PORT, ...)
//  4. Configuration file (.inkwell.yml) lowest priority
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inkwell-md/inkwell/internal/config"
	"github.com/inkwell-md/inkwell/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Plain-text note taking with a live HTML preview",
	Long: `Inkwell manages plain-text notes whose filenames carry a sortable
tag and an optional copy counter, and serves any note as a live HTML
preview that follows your edits.

Quick Start:
  inkwell new "Shopping list"     Create a note with today's sort tag
  inkwell view note.md            Preview a note in the browser
  inkwell config                  Show the effective configuration`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().SetNormalizeFunc(normalizeFlags)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .inkwell.yml, can also use INKWELL_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log to this file with rotation instead of stderr")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// normalizeFlags accepts --log_level as a spelling of --log-level, so
// flag names line up with the config keys they bind to.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("INKWELL_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".inkwell")
	}

	viper.SetEnvPrefix("INKWELL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; defaults and env cover everything.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(&logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}
