// Package config provides the shared viper/pflag/properties-file loading
// discipline every component binary uses: flags override environment
// variables, which override a properties file, which override defaults.
package config

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader wraps a viper.Viper configured with a component's env prefix and
// (optionally) a properties file, ready to bind pflags and unmarshal into
// a component-specific struct.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader returns a Loader for component, whose environment variables
// are prefixed ELECTORALNET_<COMPONENT>_ (dots replaced by underscores).
func NewLoader(component string) *Loader {
	v := viper.New()
	prefix := "ELECTORALNET_" + strings.ToUpper(component)
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, prefix: prefix}
}

// SetDefault forwards to the underlying viper instance.
func (l *Loader) SetDefault(key string, value any) { l.v.SetDefault(key, value) }

// ReadPropertiesFile loads a pipe-free `key = value` properties file (the
// same syntax magiconair/properties parses, which viper's "properties"
// config type delegates to). A missing path is not an error: components
// run from flags/env alone in that case.
func (l *Loader) ReadPropertiesFile(path string) error {
	if path == "" {
		return nil
	}
	l.v.SetConfigFile(path)
	l.v.SetConfigType("properties")
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read properties file %s: %w", path, err)
	}
	return nil
}

// BindFlags binds the already-parsed pflag.FlagSet so explicitly set flags
// take precedence over environment variables, properties-file and default
// values (viper's own precedence order).
func (l *Loader) BindFlags(fs *flag.FlagSet) error {
	if err := l.v.BindPFlags(fs); err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	return nil
}

// Unmarshal decodes the merged configuration into cfg.
func (l *Loader) Unmarshal(cfg any) error {
	if err := l.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	return nil
}

// EnvPrefix returns the environment variable prefix this loader uses,
// for usage messages.
func (l *Loader) EnvPrefix() string { return l.prefix }
