package jobsystem

import "github.com/rs/zerolog"

// Logger is the severity-filtered message sink the job system consumes,
// matching spec.md §1's framing of logging as an external collaborator: the
// core only needs Debug/Info/Warn/Error with structured fields, never a
// concrete sink implementation. Passing an explicit Logger at construction
// (Config.Logger) replaces the original's global singleton log channel
// (spec.md §9).
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// ZerologAdapter satisfies Logger on top of github.com/rs/zerolog, the
// structured logger the rest of the example corpus standardizes on.
type ZerologAdapter struct {
	log zerolog.Logger
}

// NewZerologAdapter wraps a zerolog.Logger as a jobsystem.Logger.
func NewZerologAdapter(log zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{log: log.With().Str("component", "jobsystem").Logger()}
}

func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

// Debug implements Logger.
func (z *ZerologAdapter) Debug(msg string, kv ...any) {
	withFields(z.log.Debug(), kv).Msg(msg)
}

// Info implements Logger.
func (z *ZerologAdapter) Info(msg string, kv ...any) {
	withFields(z.log.Info(), kv).Msg(msg)
}

// Warn implements Logger.
func (z *ZerologAdapter) Warn(msg string, kv ...any) {
	withFields(z.log.Warn(), kv).Msg(msg)
}

// Error implements Logger.
func (z *ZerologAdapter) Error(msg string, kv ...any) {
	withFields(z.log.Error(), kv).Msg(msg)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
