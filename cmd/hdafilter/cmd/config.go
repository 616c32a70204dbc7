package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// CLIConfig describes the CLI configuration.
type CLIConfig struct {
	// bug in viper? Need to keep names of fields the same as the serialized names..
	LogLevel string `json:"loglevel" yaml:"loglevel"` // Log level (debug, info, none)
	Timeout  string `json:"timeout" yaml:"timeout"`   // Bound on each hotl / git-lfs invocation
	Archive  string `json:"archive" yaml:"archive"`   // Large object backend: auto, lfs, localfs, none
}

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	err := viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// configCmd represents the config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to manage the hdafilter config file",
	Long: `Commands to manage the hdafilter CLI config file.

This is the machine-wide configuration (log level, timeouts, archive
backend selection). Per-repository settings such as the hotl location
live in git config and are written by "hdafilter install".`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a config file with the current settings",
	Long:  `Generate $HOME/.hdafilter/hdafilter.yaml from the active settings, creating the directory when needed.`,
	Run: func(cmd *cobra.Command, args []string) {
		home, err := os.UserHomeDir()
		if err != nil {
			wrapFatalln("cannot locate home directory", err)
			return
		}
		dir := filepath.Join(home, ".hdafilter")
		if err := os.MkdirAll(dir, 0755); err != nil {
			wrapFatalln("cannot create "+dir, err)
			return
		}
		data, err := yaml.Marshal(config)
		if err != nil {
			wrapFatalln("cannot serialize configuration", err)
			return
		}
		target := filepath.Join(dir, "hdafilter.yaml")
		if err := os.WriteFile(target, data, 0644); err != nil {
			wrapFatalln("cannot write "+target, err)
			return
		}
		infoLogger.Println("wrote", target)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenerateCmd)
}
