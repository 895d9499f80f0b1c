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
	defaultPort           = 8101
	defaultSweepInterval  = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultLogLevel       = "info"
	defaultLogOutput      = "stdout"
	defaultDatadir        = ".electoral-station"
)

// Config holds a station agent's configuration.
type Config struct {
	StationID      string        `mapstructure:"stationId"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DispatchURL    string        `mapstructure:"dispatchUrl"` // receiver or broker base URL
	SweepInterval  time.Duration `mapstructure:"sweepInterval"`
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

	l := config.NewLoader("station")
	l.SetDefault("host", defaultHost)
	l.SetDefault("port", defaultPort)
	l.SetDefault("sweepInterval", defaultSweepInterval)
	l.SetDefault("requestTimeout", defaultRequestTimeout)
	l.SetDefault("datadir", defaultDatadirPath)
	l.SetDefault("log.level", defaultLogLevel)
	l.SetDefault("log.output", defaultLogOutput)

	flag.StringP("stationId", "s", "", "unique station identifier (required)")
	flag.StringP("host", "h", defaultHost, "HTTP host to bind")
	flag.IntP("port", "p", defaultPort, "HTTP port to bind")
	flag.StringP("dispatchUrl", "u", "", "base URL of the center receiver or broker to dispatch votes to (required)")
	flag.Duration("sweepInterval", defaultSweepInterval, "interval between retry sweeps of pending votes")
	flag.Duration("requestTimeout", defaultRequestTimeout, "per-request server timeout")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the local vote journal")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("propertiesFile", "", "optional properties file to load configuration from")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "station v%s\n\n", version.Version)
		fmt.Fprintf(os.Stderr, "Usage: station [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available, prefixed %s_\n", l.EnvPrefix())
		fmt.Fprintf(os.Stderr, "  (dots replaced by underscores), e.g. %s_STATIONID.\n", l.EnvPrefix())
		fmt.Fprintf(os.Stderr, "\nExample:\n  station --stationId=ST-042 --dispatchUrl=http://localhost:8201\n")
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
	if cfg.StationID == "" {
		return fmt.Errorf("stationId is required (use --stationId or ELECTORALNET_STATION_STATIONID)")
	}
	if cfg.DispatchURL == "" {
		return fmt.Errorf("dispatchUrl is required (use --dispatchUrl or ELECTORALNET_STATION_DISPATCHURL)")
	}
	return nil
}
