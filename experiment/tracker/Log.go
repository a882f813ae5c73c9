package tracker

import "github.com/rs/zerolog"

// Log is a Tracker which logs every Row as soon as it is tracked
type Log struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLog returns a new Log Tracker which logs at the given level
func NewLog(logger zerolog.Logger, level zerolog.Level) *Log {
	return &Log{
		logger: logger.With().Str("component", "tracker").Logger(),
		level:  level,
	}
}

// Track logs r
func (l *Log) Track(r Row) error {
	l.logger.WithLevel(l.level).EmbedObject(r).Msg("iteration")
	return nil
}

// Save does nothing, since rows are logged when tracked
func (l *Log) Save() error {
	return nil
}
