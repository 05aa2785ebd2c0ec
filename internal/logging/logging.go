// Package logging wires up rs/zerolog the way every component in this repo
// expects to receive it: a single base logger carrying the node id, with
// per-component sub-loggers adding their own "component" field.
//
// The teacher logs via bare log.Printf (cmd/server/main.go,
// internal/api/middleware.go); this replaces that with structured,
// leveled, key=value logging without changing the "one logger handed down
// from main" wiring style.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the base logger for a node. level is one of zerolog's level
// names ("debug", "info", "warn", "error"); an unrecognized value falls
// back to "info". Output goes to w (nil defaults to os.Stderr) in zerolog's
// compact JSON form — a human-readable console writer is opt-in via pretty.
func New(nodeID string, levelName string, pretty bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("node_id", nodeID).
		Logger()
}

// Component returns a sub-logger tagging every event with component=name,
// e.g. logging.Component(base, "applicator").
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
