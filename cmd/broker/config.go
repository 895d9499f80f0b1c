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
	defaultPort           = 8201
	defaultRequestTimeout = 10 * time.Second
	defaultMoverInterval  = 5 * time.Second
	defaultQueueMaxSize   = 10000
	defaultLogLevel       = "info"
	defaultLogOutput      = "stdout"
	defaultDatadir        = ".electoral-broker"
)

// Config holds a broker's configuration.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	CenterURL      string        `mapstructure:"centerUrl"` // downstream center receiver
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	MoverInterval  time.Duration `mapstructure:"moverInterval"`
	Queue          QueueConfig   `mapstructure:"queue"`
	Circuit        CircuitConfig `mapstructure:"circuit"`
	Datadir        string        `mapstructure:"datadir"`
	Log            LogConfig     `mapstructure:"log"`
}

// QueueConfig mirrors queue.* properties.
type QueueConfig struct {
	MaxSize int `mapstructure:"maxSize"`
}

// CircuitConfig mirrors circuit.* properties.
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failureThreshold"`
	TimeoutSeconds   time.Duration `mapstructure:"timeoutSeconds"`
	SuccessThreshold int           `mapstructure:"successThreshold"`
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

	l := config.NewLoader("broker")
	l.SetDefault("host", defaultHost)
	l.SetDefault("port", defaultPort)
	l.SetDefault("requestTimeout", defaultRequestTimeout)
	l.SetDefault("moverInterval", defaultMoverInterval)
	l.SetDefault("queue.maxSize", defaultQueueMaxSize)
	l.SetDefault("circuit.failureThreshold", 5)
	l.SetDefault("circuit.timeoutSeconds", 60*time.Second)
	l.SetDefault("circuit.successThreshold", 3)
	l.SetDefault("datadir", defaultDatadirPath)
	l.SetDefault("log.level", defaultLogLevel)
	l.SetDefault("log.output", defaultLogOutput)

	flag.StringP("host", "h", defaultHost, "HTTP host to bind")
	flag.IntP("port", "p", defaultPort, "HTTP port to bind")
	flag.StringP("centerUrl", "u", "", "base URL of the center receiver to dispatch votes to (required)")
	flag.Duration("requestTimeout", defaultRequestTimeout, "per-request server timeout")
	flag.Duration("moverInterval", defaultMoverInterval, "interval between retry-queue mover sweeps")
	flag.Int("queue.maxSize", defaultQueueMaxSize, "primary queue capacity")
	flag.Int("circuit.failureThreshold", 5, "consecutive failures before the center's circuit opens")
	flag.Duration("circuit.timeoutSeconds", 60*time.Second, "time OPEN must elapse before a HALF_OPEN probe")
	flag.Int("circuit.successThreshold", 3, "consecutive HALF_OPEN successes required to close the circuit")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the persistence manager")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("propertiesFile", "", "optional properties file to load configuration from")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "broker v%s\n\n", version.Version)
		fmt.Fprintf(os.Stderr, "Usage: broker [flags]\n\n")
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
	if cfg.CenterURL == "" {
		return fmt.Errorf("centerUrl is required (use --centerUrl or ELECTORALNET_BROKER_CENTERURL)")
	}
	return nil
}
