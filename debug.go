package storage

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var debug = &logger{}

func d(s string, args ...interface{}) {
	debug.debug(s, args...)
}

// logger is the package-wide debug tracer; it stays silent until a Config turns it on
type logger struct {
	mu              sync.RWMutex
	entry           *logrus.Entry
	debuggerEnabled bool
}

func (l *logger) debug(s string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.debuggerEnabled && l.entry != nil {
		l.entry.Debugf(s, args...)
	}
}

func (l *logger) init(entry *logrus.Entry, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !enabled {
		return
	}
	l.debuggerEnabled = true
	l.entry = entry.WithField("component", "crmstore")
}

// newEntry returns the facade's own logger, tagged with who it is acting for
func newEntry(base *logrus.Entry, identity *Identity) *logrus.Entry {
	if identity == nil {
		return base.WithField("session", "none")
	}
	return base.WithFields(logrus.Fields{
		"tenant_id": identity.TenantID,
		"user_id":   identity.ID,
		"role":      identity.Role,
	})
}
