// Copyright © 2019 One Concern

package cmd

import (
	"fmt"
	"os"

	"github.com/oneconcern/hdafilter/pkg/dlogger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hdafilter",
	Short: "hdafilter stores binary Houdini assets as diffable text in git",
	Long: `hdafilter is a git content filter for Houdini Digital Assets (HDA).

On checkin it expands the binary HDA into a stable text representation
using Houdini's hotl utility, so commits diff and merge like source
code; the original binary is parked in git-lfs (or a local object
store) so it stays retrievable byte-for-byte. On checkout the process
reverses, preferring the archived binary and falling back to
collapsing the text.

The filter degrades gracefully: every combination of hotl and git-lfs
being present or absent has a defined behavior, so a clone works on
machines without Houdini installed.
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = dlogger.MustGetLogger(params.root.logLevel)
	},
}

var (
	config *CLIConfig
	logger = zap.NewNop()
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&params.root.logLevel, "log-level", "",
		"log level (debug, info, none); diagnostics always go to stderr")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("loglevel", dlogger.LogLevelInfo)
	viper.SetDefault("timeout", "5m")
	viper.SetDefault("archive", "auto")
	if os.Getenv("HDAFILTER_CONFIG") != "" {
		// Use config file from the environment.
		viper.SetConfigFile(os.Getenv("HDAFILTER_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.hdafilter")
		viper.AddConfigPath("/etc/hdafilter")
		viper.SetConfigName("hdafilter")
	}

	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	_ = viper.ReadInConfig()

	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
	}
	if params.root.logLevel == "" {
		params.root.logLevel = config.LogLevel
	}
}
