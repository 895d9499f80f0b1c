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
	defaultHost            = "0.0.0.0"
	defaultPort            = 8301
	defaultRequestTimeout  = 10 * time.Second
	defaultQueryTimeout    = 5 * time.Second
	defaultRecoveryTimeout = 30 * time.Second
	defaultLogLevel        = "info"
	defaultLogOutput       = "stdout"
	defaultDatadir         = ".electoral-dbproxy"
	defaultPrimaryType     = "pebble"
)

// Config holds a dbproxy's configuration.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
	QueryTimeout    time.Duration `mapstructure:"queryTimeout"`
	RecoveryTimeout time.Duration `mapstructure:"recoveryTimeout"`
	Datadir         string        `mapstructure:"datadir"`
	PrimaryType     string        `mapstructure:"primaryType"` // pebble or memory
	ReplicaDSN      string        `mapstructure:"replicaDsn"`  // postgres DSN; empty uses an in-process replica
	Circuit         CircuitConfig `mapstructure:"circuit"`
	Log             LogConfig     `mapstructure:"log"`
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

	l := config.NewLoader("dbproxy")
	l.SetDefault("host", defaultHost)
	l.SetDefault("port", defaultPort)
	l.SetDefault("requestTimeout", defaultRequestTimeout)
	l.SetDefault("queryTimeout", defaultQueryTimeout)
	l.SetDefault("recoveryTimeout", defaultRecoveryTimeout)
	l.SetDefault("datadir", defaultDatadirPath)
	l.SetDefault("primaryType", defaultPrimaryType)
	l.SetDefault("circuit.failureThreshold", 5)
	l.SetDefault("circuit.timeoutSeconds", 60*time.Second)
	l.SetDefault("circuit.successThreshold", 3)
	l.SetDefault("log.level", defaultLogLevel)
	l.SetDefault("log.output", defaultLogOutput)

	flag.StringP("host", "h", defaultHost, "HTTP host to bind")
	flag.IntP("port", "p", defaultPort, "HTTP port to bind")
	flag.Duration("requestTimeout", defaultRequestTimeout, "per-request server timeout")
	flag.Duration("queryTimeout", defaultQueryTimeout, "per-query timeout applied by the router")
	flag.Duration("recoveryTimeout", defaultRecoveryTimeout, "time a FAILED target must wait before a recovery probe")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the primary KV backend")
	flag.String("primaryType", defaultPrimaryType, "primary storage backend: pebble or memory")
	flag.String("replicaDsn", "", "Postgres DSN for the replica; empty uses an in-process KV replica")
	flag.Int("circuit.failureThreshold", 5, "consecutive failures before a target's circuit opens")
	flag.Duration("circuit.timeoutSeconds", 60*time.Second, "time OPEN must elapse before a HALF_OPEN probe")
	flag.Int("circuit.successThreshold", 3, "consecutive HALF_OPEN successes required to close a circuit")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("propertiesFile", "", "optional properties file to load configuration from")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dbproxy v%s\n\n", version.Version)
		fmt.Fprintf(os.Stderr, "Usage: dbproxy [flags]\n\n")
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
