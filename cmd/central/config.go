package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/electoral-net/votepipeline/config"
	"github.com/electoral-net/votepipeline/internal/version"
)

const (
	defaultHost           = "0.0.0.0"
	defaultPort           = 8401
	defaultRequestTimeout = 10 * time.Second
	defaultLogLevel       = "info"
	defaultLogOutput      = "stdout"
	defaultDatadir        = ".electoral-central"
)

// Config holds a central server's configuration.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DatabaseURL    string        `mapstructure:"databaseUrl"` // dbproxy base URL
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	Datadir        string        `mapstructure:"datadir"`
	Log            LogConfig     `mapstructure:"log"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

func loadConfig() (*Config, error) {
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	l := config.NewLoader("central")
	l.SetDefault("host", defaultHost)
	l.SetDefault("port", defaultPort)
	l.SetDefault("requestTimeout", defaultRequestTimeout)
	l.SetDefault("datadir", defaultDatadirPath)
	l.SetDefault("log.level", defaultLogLevel)
	l.SetDefault("log.output", defaultLogOutput)

	flag.StringP("host", "h", defaultHost, "HTTP host to bind")
	flag.IntP("port", "p", defaultPort, "HTTP port to bind")
	flag.StringP("databaseUrl", "u", "", "base URL of the DBProxy gateway (required)")
	flag.Duration("requestTimeout", defaultRequestTimeout, "per-request server timeout")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the anonymized vote journal")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("propertiesFile", "", "optional properties file to load configuration from")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "central v%s\n\n", version.Version)
		fmt.Fprintf(os.Stderr, "Usage: central [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available, prefixed %s_\n", l.EnvPrefix())
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	if propsFile, _ := flag.CommandLine.GetString("propertiesFile"); propsFile != "" {
		if err := l.ReadPropertiesFile(propsFile); err != nil {
			return nil, err
		}
	}

	if err := l.BindFlags(flag.CommandLine); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := l.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("databaseUrl is required (use --databaseUrl or ELECTORALNET_CENTRAL_DATABASEURL)")
	}
	return nil
}
