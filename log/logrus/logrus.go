package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/fusecache"
)

type LogrusLogger struct{ E *logrus.Entry }

// New wraps a logrus logger for the cache's Logger field.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: logrus.NewEntry(l)}
}

func (l LogrusLogger) Debug(msg string, f fusecache.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f fusecache.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f fusecache.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f fusecache.Fields) { l.entry(f).Error(msg) }

// entry avoids the WithFields allocation on the common field-less line.
func (l LogrusLogger) entry(f fusecache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}
