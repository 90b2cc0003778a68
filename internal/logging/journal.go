package logging

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"go.uber.org/zap/zapcore"
)

var journalSend = journal.Send

// journalCore forwards entries to the systemd journal with structured fields.
type journalCore struct {
	zapcore.LevelEnabler
	ident  string
	fields []zapcore.Field
}

func newJournalCore(ident string, level zapcore.LevelEnabler) zapcore.Core {
	return &journalCore{LevelEnabler: level, ident: ident}
}

func (c *journalCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *journalCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *journalCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	vars := map[string]string{"SYSLOG_IDENTIFIER": c.ident}
	if ent.LoggerName != "" {
		vars["LOGGER"] = ent.LoggerName
	}
	for k, v := range enc.Fields {
		vars[journalKey(k)] = fmt.Sprint(v)
	}
	return journalSend(ent.Message, journalPriority(ent.Level), vars)
}

func (c *journalCore) Sync() error { return nil }

func journalPriority(l zapcore.Level) journal.Priority {
	switch {
	case l >= zapcore.DPanicLevel:
		return journal.PriCrit
	case l >= zapcore.ErrorLevel:
		return journal.PriErr
	case l >= zapcore.WarnLevel:
		return journal.PriWarning
	case l >= zapcore.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalKey maps a zap field name to a journal variable name: upper case
// letters, digits and underscores, not starting with an underscore.
func journalKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.TrimLeft(b.String(), "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "F_" + s
	}
	return s
}
