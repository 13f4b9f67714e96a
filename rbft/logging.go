// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import "go.uber.org/zap"

// Logger is the structured logging surface every component takes a
// reference to, mirroring the teacher's own Logger abstraction
// (`state_machine.go`/`sequence.go` call `myConfig.Logger.Panic(...)` with
// zap fields). Hosts that already run zap pass their own *zap.Logger
// directly, since it satisfies this interface; tests pass zap.NewNop() or
// an observer core.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	// Panic logs at Panic level then panics, reserved for fatal invariant
	// breaches (spec.md §7 kind 3): bugs, not Byzantine input.
	Panic(msg string, fields ...zap.Field)
}

// loggerFromConfig returns cfg.Logger if set, or a no-op logger otherwise,
// so components never need a nil check.
func loggerFromConfig(cfg CoreConfig) Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

// zapErr is a one-field shorthand for the common "log this error" call
// site, matching the teacher's style of building a small zap.Field slice
// inline at each log/panic call.
func zapErr(err error) zap.Field {
	return zap.Error(err)
}
