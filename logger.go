package udns

import (
	"github.com/sirupsen/logrus"
)

// Log is a package-global logger used throughout the library. Configuration can be
// changed directly on this instance or the instance replaced.
var Log = logrus.New()

func logger(domain string, rtype RecordType) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"qname": domain,
		"qtype": rtype.String(),
	})
}
