package dbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const prepareForSleep = "org.freedesktop.login1.Manager.PrepareForSleep"

// WatchResume listens for logind's PrepareForSleep signal on the system bus
// and calls wake after every resume. It returns when ctx is done.
func WatchResume(ctx context.Context, wake func(), log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("cannot watch system resume: %w", err)
	}
	defer conn.Close()

	rule := "type='signal',interface='org.freedesktop.login1.Manager',member='PrepareForSleep'"
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("cannot subscribe to PrepareForSleep: %w", err)
	}

	ch := make(chan *dbus.Signal, 1)
	conn.Signal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if isResume(sig) {
				log.Info("System resumed from sleep; probing now")
				wake()
			}
		}
	}
}

// isResume matches PrepareForSleep(false), sent after the system wakes up
func isResume(sig *dbus.Signal) bool {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) == 0 {
		return false
	}
	goingToSleep, ok := sig.Body[0].(bool)
	return ok && !goingToSleep
}
