package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger on top of a logrus entry.
// Badger is chatty at info level, so its info output is demoted to debug.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter tagged with component=badger
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry.WithField("component", "badger")}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{})   { l.entry.Errorf(trimNewline(f), v...) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.entry.Warnf(trimNewline(f), v...) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{})    { l.entry.Debugf(trimNewline(f), v...) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{})   { l.entry.Tracef(trimNewline(f), v...) }

// ChromedpLogf returns a printf-style sink for chromedp.WithLogf/WithDebugf.
// Browser protocol chatter only shows up at trace level.
func ChromedpLogf(entry *logrus.Entry) func(string, ...interface{}) {
	e := entry.WithField("component", "chromedp")
	return func(f string, v ...interface{}) { e.Tracef(trimNewline(f), v...) }
}

// ChromedpErrorf returns a printf-style sink for chromedp.WithErrorf.
func ChromedpErrorf(entry *logrus.Entry) func(string, ...interface{}) {
	e := entry.WithField("component", "chromedp")
	return func(f string, v ...interface{}) { e.Warnf(trimNewline(f), v...) }
}

// badger terminates its format strings with newlines; logrus adds its own
func trimNewline(f string) string {
	return strings.TrimRight(f, "\n")
}
