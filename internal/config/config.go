// Package config defines the command-line surface (spec §6 "CLI"),
// parsed with jessevdk/go-flags the way the teacher's cmd/ binaries do.
package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunOptions is the flag set for the implicit `run` subcommand.
type RunOptions struct {
	NodeSocket string `long:"node-socket" env:"KUPO_NODE_SOCKET" description:"path to the local node's Unix socket"`
	NodeConfig string `long:"node-config" env:"KUPO_NODE_CONFIG" description:"path to the node's network configuration"`
	OgmiosHost string `long:"ogmios-host" env:"KUPO_OGMIOS_HOST" description:"Ogmios bridge host"`
	OgmiosPort int    `long:"ogmios-port" env:"KUPO_OGMIOS_PORT" description:"Ogmios bridge port"`

	Workdir  string `long:"workdir" env:"KUPO_WORKDIR" description:"directory holding the SQLite database"`
	InMemory bool   `long:"in-memory" description:"keep the database in memory, discarded on exit"`

	Host string `long:"host" default:"127.0.0.1" description:"HTTP server host"`
	Port int    `long:"port" default:"1442" description:"HTTP server port"`

	Since string   `long:"since" description:"chain point to start syncing from: \"origin\" or \"<slot>.<hexHash>\""`
	Match []string `long:"match" description:"pattern to register at startup (repeatable, logical OR)"`

	PruneUTXO       bool `long:"prune-utxo" description:"delete spent inputs once they fall outside the rollback horizon instead of keeping them marked"`
	GCInterval      int  `long:"gc-interval" default:"3600" description:"seconds between garbage collection passes"`
	MaxConcurrency  int  `long:"max-concurrency" default:"50" description:"maximum concurrent short-lived storage connections"`
	DeferDBIndexes  bool `long:"defer-db-indexes" description:"skip creating non-essential indexes at startup"`

	LogLevel          string `long:"log-level" default:"Info" description:"default log severity"`
	LogLevelConsumer  string `long:"log-level-consumer" description:"log severity override for the chain consumer"`
	LogLevelHTTP      string `long:"log-level-http" description:"log severity override for the HTTP server"`
	LogLevelStore     string `long:"log-level-store" description:"log severity override for the storage engine"`
	LogLevelGC        string `long:"log-level-gc" description:"log severity override for the garbage collector"`
}

// Validate enforces the cross-flag invariants spec §6 names: exactly
// one transport source, exactly one storage mode, and a sane
// concurrency floor.
func (o RunOptions) Validate() error {
	transports := 0
	if o.NodeSocket != "" {
		transports++
	}
	if o.OgmiosHost != "" {
		transports++
	}
	if transports != 1 {
		return fmt.Errorf("configurationError: exactly one of --node-socket or --ogmios-host must be set")
	}
	if o.OgmiosHost != "" && o.NodeConfig != "" {
		return fmt.Errorf("configurationError: --node-config only applies to --node-socket")
	}
	if o.Workdir == "" && !o.InMemory {
		return fmt.Errorf("configurationError: one of --workdir or --in-memory must be set")
	}
	if o.Workdir != "" && o.InMemory {
		return fmt.Errorf("configurationError: --workdir and --in-memory are mutually exclusive")
	}
	if o.MaxConcurrency < 10 {
		return fmt.Errorf("configurationError: --max-concurrency must be at least 10")
	}
	return nil
}

// HealthCheckOptions is the flag set for the `health-check` subcommand.
type HealthCheckOptions struct {
	Host string `long:"host" default:"127.0.0.1" description:"HTTP server host to probe"`
	Port int    `long:"port" default:"1442" description:"HTTP server port to probe"`
}

// ParseLogLevel maps spec §6's severities onto zapcore.Level. Notice has
// no zap equivalent and is folded into Info; Off maps to a level above
// every real severity so nothing is ever emitted.
func ParseLogLevel(sev string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(sev)) {
	case "", "info", "notice":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "off":
		return zapcore.Level(127), nil
	default:
		return 0, fmt.Errorf("configurationError: unknown log severity %q", sev)
	}
}

// BuildLogger constructs a production-style zap.Logger at the given
// level, the same base config the teacher builds in development mode
// but with ISO8601 timestamps suited to long-running services.
func BuildLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// ComponentLogger returns a logger named component, at override's level
// if non-empty, else base's level.
func ComponentLogger(base *zap.Logger, component, override string) (*zap.Logger, error) {
	if override == "" {
		return base.Named(component), nil
	}
	level, err := ParseLogLevel(override)
	if err != nil {
		return nil, err
	}
	logger, err := BuildLogger(level)
	if err != nil {
		return nil, err
	}
	return logger.Named(component), nil
}
