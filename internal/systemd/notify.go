// Package systemd reports service state to the systemd supervisor.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/detectnode/internal/logging"
)

// Notifier sends sd_notify messages. Outside a Type=notify unit every call
// is a no-op.
type Notifier struct {
	logger logging.Logger
}

// NewNotifier creates a Notifier logging through logger, or the "main"
// module logger when nil.
func NewNotifier(logger logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.GetLogger("main")
	}
	return &Notifier{logger: logger}
}

// Ready tells systemd the API is accepting connections.
func (n *Notifier) Ready() bool {
	return n.notify(daemon.SdNotifyReady)
}

// Stopping tells systemd shutdown has begun.
func (n *Notifier) Stopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

// Status updates the free-form status line shown by systemctl.
func (n *Notifier) Status(status string) bool {
	return n.notify("STATUS=" + status)
}

func (n *Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return false
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
	return sent
}
