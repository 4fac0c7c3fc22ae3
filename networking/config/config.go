// Package config exposes the compile-time knobs named throughout §4 and §6
// as a runtime-loadable struct (§11), generalizing the teacher's
// hardcoded-constants-plus-a-literal-port approach in server.go/client.go
// into defaults overlaid first by environment variables, then by flags.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/gameraccoon/tank-game-sub000/networking/handlers"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// Config bundles every runtime-tunable knob a server or client host needs.
// The numeric defaults match §6 exactly; they are not meant to vary between
// instances of the same protocol version, but are exposed so local testing
// can exercise corner cases (e.g. tiny idle thresholds and a short tick)
// without recompiling.
type Config struct {
	ListenAddr      string
	ProtocolVersion uint32
	LogLevel        string
	MetricsAddr     string // empty disables the metrics listener

	OneFixedUpdateUS        uint64
	MaxInputHistorySendSize int
	SpawnPoints             []world.Vec2

	IdlePauseUpdates uint32
	IdleQuitUpdates  uint32
}

// Default returns the §6 defaults, matching the reference implementation.
func Default() Config {
	return Config{
		ListenAddr:              ":8080",
		ProtocolVersion:         wire.ProtocolVersion,
		LogLevel:                "info",
		MetricsAddr:             "",
		OneFixedUpdateUS:        16000,
		MaxInputHistorySendSize: input.MaxInputHistorySendSize,
		SpawnPoints:             handlers.DefaultSpawnPoints,
		IdlePauseUpdates:        handlers.IdlePauseUpdates,
		IdleQuitUpdates:         handlers.IdleQuitUpdates,
	}
}

// FromEnv overlays recognized NETCODE_* environment variables onto base,
// following the plain os.Getenv style server.go uses for its listen
// address. Malformed numeric values are ignored, leaving base's value in
// place, rather than failing startup over a typo'd environment variable.
func FromEnv(base Config) Config {
	cfg := base

	if v := os.Getenv("NETCODE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NETCODE_PROTOCOL_VERSION"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.ProtocolVersion = uint32(n)
		}
	}
	if v := os.Getenv("NETCODE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NETCODE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("NETCODE_SPAWN_POINTS"); v != "" {
		if points, ok := parseSpawnPoints(v); ok {
			cfg.SpawnPoints = points
		}
	}
	if v := os.Getenv("NETCODE_IDLE_PAUSE_UPDATES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.IdlePauseUpdates = uint32(n)
		}
	}
	if v := os.Getenv("NETCODE_IDLE_QUIT_UPDATES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.IdleQuitUpdates = uint32(n)
		}
	}

	return cfg
}

// parseSpawnPoints reads a ";"-separated list of "x,y" pairs, e.g.
// "80,202;130,202".
func parseSpawnPoints(v string) ([]world.Vec2, bool) {
	var points []world.Vec2
	start := 0
	for start <= len(v) {
		end := start
		for end < len(v) && v[end] != ';' {
			end++
		}
		pair := v[start:end]
		comma := -1
		for i, c := range pair {
			if c == ',' {
				comma = i
				break
			}
		}
		if comma < 0 {
			return nil, false
		}
		x, err := strconv.ParseFloat(pair[:comma], 32)
		if err != nil {
			return nil, false
		}
		y, err := strconv.ParseFloat(pair[comma+1:], 32)
		if err != nil {
			return nil, false
		}
		points = append(points, world.Vec2{X: float32(x), Y: float32(y)})
		if end >= len(v) {
			break
		}
		start = end + 1
	}
	if len(points) == 0 {
		return nil, false
	}
	return points, true
}

// RegisterFlags binds flags that take precedence over environment
// variables for local development, grounded on server.go's own (unused)
// flag.String("addr", ...) pattern.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "UDP listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "logrus level (debug, info, warn, error)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve /metrics on, empty to disable")
}
