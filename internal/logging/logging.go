// Package logging adapts pterm's structured logger to mws.Logger.
package logging

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/luciancaetano/mws"
)

const timeFormat = "02 Jan 15:04:05"

// Options configures NewPterm.
type Options struct {
	// Debug enables debug level output
	Debug bool
	// Writer receives the log lines (default: pterm's writer, stderr)
	Writer io.Writer
	// JSON selects pterm's JSON formatter instead of the colorful one
	JSON bool
}

type ptermLogger struct {
	l *pterm.Logger
}

// NewPterm returns a Logger backed by a private copy of pterm.DefaultLogger.
func NewPterm(opts Options) mws.Logger {
	l := pterm.DefaultLogger
	l.ShowTime = true
	l.TimeFormat = timeFormat
	l.MaxWidth = 1000
	l.Level = pterm.LogLevelInfo

	if opts.Debug {
		l.Level = pterm.LogLevelDebug
	}
	if opts.Writer != nil {
		l.Writer = opts.Writer
	}
	if opts.JSON {
		l.Formatter = pterm.LogFormatterJSON
	}

	return &ptermLogger{l: &l}
}

func (p *ptermLogger) Debug(format string, args ...any) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p *ptermLogger) Info(format string, args ...any) {
	p.l.Info(fmt.Sprintf(format, args...))
}

func (p *ptermLogger) Warn(format string, args ...any) {
	p.l.Warn(fmt.Sprintf(format, args...))
}

func (p *ptermLogger) Error(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
}
