// Package systemd integrates with socket activation and the sd_notify
// protocol.
package systemd

import (
	"fmt"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// File descriptor names expected in focusguard.socket via FileDescriptorName=
const (
	NameControl = "control"
	NameMetrics = "metrics"
	NameDNSUDP  = "dns-udp"
	NameDNSTCP  = "dns-tcp"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Control   net.Listener
	Metrics   net.Listener
	DNSUdp    net.PacketConn
	DNSTcp    net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	files := activation.Files(true)
	if len(files) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	for _, f := range files {
		var err error
		switch f.Name() {
		case NameControl:
			listeners.Control, err = net.FileListener(f)
		case NameMetrics:
			listeners.Metrics, err = net.FileListener(f)
		case NameDNSTCP:
			listeners.DNSTcp, err = net.FileListener(f)
		case NameDNSUDP:
			listeners.DNSUdp, err = net.FilePacketConn(f)
		}
		name := f.Name()
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to use systemd socket %q: %w", name, err)
		}
	}

	return listeners, nil
}

// NotifyReady tells systemd that startup has finished. Outside systemd this
// is a no-op.
func NotifyReady() error {
	return notify(daemon.SdNotifyReady)
}

// NotifyStopping tells systemd that the service is shutting down
func NotifyStopping() error {
	return notify(daemon.SdNotifyStopping)
}

// NotifyWatchdog must be called periodically when the unit sets WatchdogSec
func NotifyWatchdog() error {
	return notify(daemon.SdNotifyWatchdog)
}

// WatchdogInterval returns how often NotifyWatchdog should be sent, or zero
// when the watchdog is disabled.
func WatchdogInterval() (time.Duration, error) {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0, fmt.Errorf("failed to read watchdog settings: %w", err)
	}
	return timeout / 2, nil
}

func notify(state string) error {
	if _, err := daemon.SdNotify(false, state); err != nil {
		return fmt.Errorf("failed to send sd_notify %q: %w", state, err)
	}
	return nil
}
