package logger

import (
	"time"

	"go.uber.org/zap"
)

// String creates a string field.
func String(key, val string) Field { return zap.String(key, val) }

// Int creates an int field.
func Int(key string, val int) Field { return zap.Int(key, val) }

// Int64 creates an int64 field.
func Int64(key string, val int64) Field { return zap.Int64(key, val) }

// Float64 creates a float64 field.
func Float64(key string, val float64) Field { return zap.Float64(key, val) }

// Bool creates a bool field.
func Bool(key string, val bool) Field { return zap.Bool(key, val) }

// Duration creates a duration field.
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }

// Time creates a time field.
func Time(key string, val time.Time) Field { return zap.Time(key, val) }

// Error creates an error field with the key "error".
func Error(err error) Field { return zap.Error(err) }

// Any creates a field that can hold any value.
func Any(key string, val any) Field { return zap.Any(key, val) }

// Strings creates a string slice field.
func Strings(key string, val []string) Field { return zap.Strings(key, val) }

// Pipeline identifiers share the same keys everywhere so runs can be traced across workers.

// RunID tags an entry with a scrape run id.
func RunID(id string) Field { return zap.String("run_id", id) }

// JobID tags an entry with a scrape job id.
func JobID(id string) Field { return zap.String("job_id", id) }

// GroupID tags an entry with a listing group id.
func GroupID(id string) Field { return zap.String("group_id", id) }

// Platform tags an entry with a source platform.
func Platform(name string) Field { return zap.String("platform", name) }
