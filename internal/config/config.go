// Package config loads the master server's environment-driven configuration,
// following the reflection-based env-tag approach of the teacher's
// pkg/atlas/config.go, trimmed to the variables this system actually reads.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds the master server's runtime configuration. The env struct tag
// contains the environment variable name and the default value if missing,
// or empty (if suffixed with "?").
type Config struct {
	// The address to listen on for HTTP.
	Addr string `env:"MASTER_ADDR?=:8080"`

	// Path to the sqlite database file.
	DatabaseURL string `env:"MASTER_DATABASE_URL?=./master.db"`

	// Path to the canonical empty persistence blob. Read once at startup;
	// startup fails if missing.
	DefaultBlobPath string `env:"MASTER_DEFAULT_BLOB_PATH?=./default.pdata"`

	// Path to the main menu promo data served verbatim at
	// /client/mainmenupromos. Read fresh on every request so it can be
	// updated without a restart; a missing file fails the request with 500
	// rather than startup.
	MainMenuPromosPath string `env:"MASTER_MAIN_MENU_PROMOS_PATH?=./mainmenupromodata.json"`

	// Minimum launcher semver required to use the API. Dev versions are
	// always allowed. Empty disables the gate.
	LauncherVersion string `env:"MASTER_LAUNCHER_VERSION"`

	// Maximum number of registered servers per host IP.
	MaxServersPerHost int `env:"MASTER_MAX_SERVERS_PER_HOST=10"`

	// Don't check player masterserver auth tokens or consult the platform
	// oracle. For local development only.
	InsecureDevNoCheckPlayerAuth bool `env:"MASTER_INSECURE_DEV_NO_CHECK_PLAYER_AUTH"`

	// The minimum log level (trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"MASTER_LOG_LEVEL=info"`

	// Whether to use pretty (console-formatted) logs instead of JSON.
	LogPretty bool `env:"MASTER_LOG_PRETTY"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" environment lines (as
// produced by github.com/hashicorp/go-envparse or os.Environ) into c, setting
// default values for anything not present.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if val == "" {
				cvf.Set(reflect.ValueOf(zerolog.InfoLevel))
			} else if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled config field type %T (%s)", cvf.Interface(), env)
		}
	}

	for key, val := range em {
		if strings.HasPrefix(key, "MASTER_") && val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
