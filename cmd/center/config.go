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
	defaultPort           = 8001
	defaultRequestTimeout = 10 * time.Second
	defaultSweepInterval  = 60 * time.Second
	defaultLogLevel       = "info"
	defaultLogOutput      = "stdout"
	defaultDatadir        = ".electoral-center"
)

// Config holds a center receiver's configuration.
type Config struct {
	Host              string            `mapstructure:"host"`
	Port              int               `mapstructure:"port"`
	CentralURL        string            `mapstructure:"centralUrl"` // CentralServer, or broker if enabled
	DefaultStationURL string            `mapstructure:"defaultStationUrl"`
	StationURLs       map[string]string `mapstructure:"stationUrls"` // stationId -> base URL, for the ack callback
	RequestTimeout    time.Duration     `mapstructure:"requestTimeout"`
	SweepInterval     time.Duration     `mapstructure:"sweepInterval"`
	Datadir           string            `mapstructure:"datadir"`
	Log               LogConfig         `mapstructure:"log"`
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

	l := config.NewLoader("center")
	l.SetDefault("host", defaultHost)
	l.SetDefault("port", defaultPort)
	l.SetDefault("requestTimeout", defaultRequestTimeout)
	l.SetDefault("sweepInterval", defaultSweepInterval)
	l.SetDefault("datadir", defaultDatadirPath)
	l.SetDefault("log.level", defaultLogLevel)
	l.SetDefault("log.output", defaultLogOutput)

	flag.StringP("host", "h", defaultHost, "HTTP host to bind")
	flag.IntP("port", "p", defaultPort, "HTTP port to bind")
	flag.StringP("centralUrl", "u", "", "base URL of CentralServer, or the broker if enabled (required)")
	flag.String("defaultStationUrl", "", "fallback base URL used to ack a station whose id is not in stationUrls")
	flag.Duration("requestTimeout", defaultRequestTimeout, "per-request server timeout")
	flag.Duration("sweepInterval", defaultSweepInterval, "interval between sweeps of stuck RECEIVED votes")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the received-vote journal")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("propertiesFile", "", "optional properties file to load configuration from")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "center v%s\n\n", version.Version)
		fmt.Fprintf(os.Stderr, "Usage: center [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available, prefixed %s_\n", l.EnvPrefix())
		fmt.Fprintf(os.Stderr, "\nPer-station callback URLs are read from the stationUrls map in a\n")
		fmt.Fprintf(os.Stderr, "config file passed via --propertiesFile (e.g. stationUrls.ST-042=http://localhost:8101).\n")
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
	if cfg.CentralURL == "" {
		return fmt.Errorf("centralUrl is required (use --centralUrl or ELECTORALNET_CENTER_CENTRALURL)")
	}
	return nil
}
