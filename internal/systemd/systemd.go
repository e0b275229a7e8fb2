// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd reports service state to systemd when tootfeed runs on a
// schedule as a service.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// State is a sd_notify protocol message.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that the scheduler is running.
	Ready State = "READY=1"
	// Stopping tells the service manager that shutdown has begun.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state that sets the free-form status line shown by
// systemctl status.
func Status(format string, args ...any) State {
	return State("STATUS=" + strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", " "))
}

// Notifier sends states to the service manager. A nil Notifier or one
// without a socket does nothing.
type Notifier struct {
	// Socket is the value of $NOTIFY_SOCKET.
	Socket string
	// WatchdogInterval is derived from $WATCHDOG_USEC. Zero disables the
	// watchdog.
	WatchdogInterval time.Duration
	Logger           *slog.Logger
}

// FromEnv returns a Notifier configured from the environment variables set by
// systemd. An invalid $WATCHDOG_USEC is logged and the watchdog is disabled.
func FromEnv(getenv func(string) string, log *slog.Logger) *Notifier {
	n := &Notifier{Socket: getenv("NOTIFY_SOCKET"), Logger: log}
	if usec := getenv("WATCHDOG_USEC"); usec != "" {
		d, err := watchdogInterval(usec)
		if err != nil {
			log.Warn("systemd: watchdog disabled", "error", err)
		} else {
			n.WatchdogInterval = d
		}
	}
	return n
}

// Notify sends states as one message. Failures are logged.
func (n *Notifier) Notify(states ...State) {
	if n == nil || n.Socket == "" || len(states) == 0 {
		return
	}

	lines := make([]string, len(states))
	for i, s := range states {
		lines[i] = string(s)
	}

	addr := &net.UnixAddr{Net: "unixgram", Name: n.Socket}
	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		n.logError(err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(strings.Join(lines, "\n"))); err != nil {
		n.logError(err)
	}
}

func (n *Notifier) logError(err error) {
	if n.Logger != nil {
		n.Logger.Error("systemd: notify failed", "error", err)
	}
}

// WatchdogLoop updates the watchdog timestamp at half the configured interval
// until ctx is done. It returns immediately when the watchdog is disabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	if n == nil || n.Socket == "" || n.WatchdogInterval <= 0 {
		return
	}

	ticker := time.NewTicker(n.WatchdogInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval(usec string) (time.Duration, error) {
	s, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("converting WATCHDOG_USEC: %w", err)
	}
	if s <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(s) * time.Microsecond, nil
}
