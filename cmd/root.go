// Package cmd implements the wcroots command line.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/wcroots/internal/config"
	"github.com/zjrosen/wcroots/internal/log"
)

const localConfigPath = ".wcroots/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	readErr   error
)

var rootCmd = &cobra.Command{
	Use:   "wcroots",
	Short: "Discover and resolve Subversion working copies",
	Long: `wcroots finds every Subversion working copy below a set of workspace roots,
keeps them open while their metadata changes and resolves any path to the
most specific working copy that owns it.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .wcroots/config.yaml, then ~/.config/wcroots/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write a debug log (path from WCROOTS_LOG, default debug.log)")
}

func initConfig() {
	viper.Reset()
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .wcroots/config.yaml (current directory)
		// 2. ~/.config/wcroots/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "wcroots"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	readErr = viper.ReadInConfig()
}

// setup initializes logging and decodes the configuration for every command.
func setup(_ *cobra.Command, _ []string) error {
	return loadConfig(true)
}

// setupLenient is setup for commands that create the config file: a missing
// --config file is not an error.
func setupLenient(_ *cobra.Command, _ []string) error {
	return loadConfig(false)
}

func loadConfig(strict bool) error {
	if err := initLogging(); err != nil {
		return err
	}

	// Without an explicit --config a missing file is fine; defaults apply.
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(readErr, &notFound) || errors.Is(readErr, fs.ErrNotExist)
		if !missing || (strict && cfgFile != "") {
			return fmt.Errorf("reading config: %w", readErr)
		}
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded
	log.Debug(log.CatConfig, "configuration loaded", "file", viper.ConfigFileUsed(), "roots", cfg.Roots)
	return nil
}

var logCleanup func()

// initLogging enables the file logger if debug mode is on (via flag or env var).
func initLogging() error {
	if os.Getenv("WCROOTS_DEBUG") == "" && !debugFlag {
		return nil
	}
	if logCleanup != nil {
		return nil
	}
	logPath := os.Getenv("WCROOTS_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}

	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	if level := os.Getenv("WCROOTS_LOG_LEVEL"); level != "" {
		log.SetMinLevel(log.ParseLevel(level))
	}
	logCleanup = cleanup
	return nil
}

// configPath returns the config file to write: the one loaded, else the local one.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			return used
		}
	}
	return localConfigPath
}

// Execute runs the root command
func Execute() error {
	defer func() {
		if logCleanup != nil {
			logCleanup()
		}
	}()
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
