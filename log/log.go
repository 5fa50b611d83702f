// Package log provides the structured logger used across the archive and
// the paged storage substrate, in the same New/Info/Warn/Error key-value
// shape the teacher's own internal log package exposes (see
// migrations/migrations.go and ethdb/memory_database.go).
package log

import "github.com/inconshreveable/log15"

type Logger = log15.Logger

// New creates a contextual logger, e.g. log.New("archive", "sqlite").
func New(ctx ...interface{}) Logger {
	return log15.New(ctx...)
}

var root = log15.New()

func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
