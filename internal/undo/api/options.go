package api

import (
	log "log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kolkov/undotx/internal/undo/guard"
)

// EnvOptions is the environment variable read by Init.
const EnvOptions = "UNDOTX_OPTIONS"

// Config is the runtime configuration.
//
// It is parsed from a space-separated key=value list, in the style of
// GORACE:
//
//	UNDOTX_OPTIONS="strict=1 shared=1 sites=1 violation=abort log=debug"
type Config struct {
	Strict      bool         // strict=1
	Shared      bool         // shared=1: one locked epoch for all goroutines
	RecordSites bool         // sites=1
	Violation   guard.Policy // violation=report|abort|silent
	LogLevel    log.Level    // log=debug|info|warn|error
	SetLog      bool         // log= was given
}

// ParseConfig parses an options string. Unknown keys and malformed values are
// errors; an empty string yields the zero Config.
func ParseConfig(s string) (Config, error) {
	var cfg Config
	for _, field := range strings.Fields(s) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return Config{}, errors.Newf("%s: %q is not key=value", EnvOptions, field)
		}

		var err error
		switch key {
		case "strict":
			cfg.Strict, err = strconv.ParseBool(val)
		case "shared":
			cfg.Shared, err = strconv.ParseBool(val)
		case "sites":
			cfg.RecordSites, err = strconv.ParseBool(val)
		case "violation":
			p, ok := guard.ParsePolicy(val)
			if !ok {
				err = errors.Newf("unknown policy %q", val)
			}
			cfg.Violation = p
		case "log":
			err = cfg.LogLevel.UnmarshalText([]byte(val))
			cfg.SetLog = true
		default:
			return Config{}, errors.Newf("%s: unknown option %q", EnvOptions, key)
		}
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: option %s", EnvOptions, key)
		}
	}
	return cfg, nil
}

// String formats the config in the UNDOTX_OPTIONS syntax.
func (c Config) String() string {
	b := func(v bool) string {
		if v {
			return "1"
		}
		return "0"
	}
	s := "strict=" + b(c.Strict) + " shared=" + b(c.Shared) +
		" sites=" + b(c.RecordSites) + " violation=" + c.Violation.String()
	if c.SetLog {
		s += " log=" + strings.ToLower(c.LogLevel.String())
	}
	return s
}

// logger returns the logger for the configured level: a stderr text
// handler when log= was set, slog.Default() otherwise.
func (c Config) logger() *log.Logger {
	if !c.SetLog {
		return log.Default()
	}
	return log.New(log.NewTextHandler(os.Stderr, &log.HandlerOptions{Level: c.LogLevel}))
}
