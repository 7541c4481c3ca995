package udns

import (
	syslog "github.com/RackSec/srslog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SyslogHook is a logrus hook that ships log entries to a local or
// remote syslog daemon. Install it on Log to forward resolver logs.
type SyslogHook struct {
	writer *syslog.Writer
}

var _ logrus.Hook = &SyslogHook{}

type SyslogOptions struct {
	// "udp", "tcp", "unix". Empty connects to the local syslog daemon
	Network string

	// Remote address, defaults to local syslog server
	Address string

	// Priority value as per https://pkg.go.dev/log/syslog#Priority
	Priority int

	// Syslog tag
	Tag string
}

// NewSyslogHook connects to the syslog daemon given in the options and
// returns a hook for it.
func NewSyslogHook(opt SyslogOptions) (*SyslogHook, error) {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize syslog")
	}
	return &SyslogHook{writer: writer}, nil
}

// Fire sends one log entry to syslog at the severity matching the entry
// level.
func (h *SyslogHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.writer.Crit(line)
	case logrus.ErrorLevel:
		return h.writer.Err(line)
	case logrus.WarnLevel:
		return h.writer.Warning(line)
	case logrus.InfoLevel:
		return h.writer.Info(line)
	default:
		return h.writer.Debug(line)
	}
}

func (h *SyslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
