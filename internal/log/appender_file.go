package log

import "gopkg.in/natefinch/lumberjack.v2"

// FileAppenderOpt configures the rotating file appender.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AddFileAppender adds a lumberjack writer. MaxSize defaults to 100 MB.
func (m *MultiWriter) AddFileAppender(options FileAppenderOpt) *MultiWriter {
	if options.MaxSize <= 0 {
		options.MaxSize = 100
	}
	m.writers = append(m.writers, &lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    options.MaxSize,    // megabytes
		MaxBackups: options.MaxBackups, // number of backups
		MaxAge:     options.MaxAge,     // days
		Compress:   options.Compress,
	})
	return m
}
