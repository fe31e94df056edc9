// Package recovery applies the fixed escalation of radio and link resets.
package recovery

import (
	"context"
	"strings"
	"time"

	"wifimon/internal/command"

	"github.com/sirupsen/logrus"
)

// DefaultSettleDelay is the wait between taking a radio or link down and back up
const DefaultSettleDelay = 20 * time.Second

// restoreTimeout bounds bringing the radio or link back after an interrupted settle
const restoreTimeout = 15 * time.Second

// Journal receives the operator-facing action log
type Journal interface {
	System(format string, args ...any)
}

// Actuator runs the recovery sequence. Not safe for concurrent use; the
// monitor goroutine is its only caller.
type Actuator struct {
	Runner      command.Runner
	Journal     Journal
	Log         logrus.FieldLogger
	SettleDelay time.Duration

	// sleep waits d or until ctx is done; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an actuator with the default settle delay
func New(runner command.Runner, journal Journal, log logrus.FieldLogger) *Actuator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Actuator{
		Runner:      runner,
		Journal:     journal,
		Log:         log,
		SettleDelay: DefaultSettleDelay,
		sleep:       sleepContext,
	}
}

// DisablePowerSave turns off 802.11 power saving if the driver reports it on
func (a *Actuator) DisablePowerSave(ctx context.Context, iface string) {
	if !a.available("iw") {
		return
	}
	res := a.Runner.Run(ctx, "iw", "dev", iface, "get", "power_save")
	if !res.OK() {
		a.Log.WithFields(logrus.Fields{
			"iface":  iface,
			"rc":     res.ExitCode,
			"stderr": strings.TrimSpace(res.Stderr),
		}).Debug("power save query failed")
		return
	}
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(res.Stdout)), "on") {
		return
	}
	if a.run(ctx, "iw", "dev", iface, "set", "power_save", "off") {
		a.Journal.System("Action: disabled_power_save iface=%s", iface)
	}
}

// Attempt runs every recovery step in order. Step failures are logged and
// never stop later steps. A cancelled ctx aborts the rest of the sequence,
// but a radio or link already taken down is always brought back up.
func (a *Actuator) Attempt(ctx context.Context, iface string) {
	a.DisablePowerSave(ctx, iface)

	if a.available("rfkill") {
		a.run(ctx, "rfkill", "unblock", "wifi")
		a.Journal.System("Action: rfkill_unblock_wifi")
	}

	if a.available("nmcli") {
		a.run(ctx, "nmcli", "radio", "wifi", "off")
		a.Journal.System("Action: nmcli_radio_wifi_off")
		if !a.settle(ctx) {
			a.restore(ctx, "nmcli", "radio", "wifi", "on")
			a.Journal.System("Action: nmcli_radio_wifi_on")
			return
		}
		a.run(ctx, "nmcli", "radio", "wifi", "on")
		a.Journal.System("Action: nmcli_radio_wifi_on")
	}

	if a.available("ip") {
		a.Journal.System("Action: cycle_wifi iface=%s step=down", iface)
		a.run(ctx, "ip", "link", "set", iface, "down")
		if !a.settle(ctx) {
			a.Journal.System("Action: cycle_wifi iface=%s step=up", iface)
			a.restore(ctx, "ip", "link", "set", iface, "up")
			return
		}
		a.Journal.System("Action: cycle_wifi iface=%s step=up", iface)
		a.run(ctx, "ip", "link", "set", iface, "up")
	}

	if a.available("wpa_cli") {
		a.run(ctx, "wpa_cli", "-i", iface, "reconfigure")
		a.Journal.System("Action: wpa_supplicant_reconfigure iface=%s", iface)
	}
}

func (a *Actuator) available(tool string) bool {
	if a.Runner.Available(tool) {
		return true
	}
	a.Log.WithField("tool", tool).Debug("not available; skipping recovery step")
	return false
}

func (a *Actuator) run(ctx context.Context, name string, args ...string) bool {
	res := a.Runner.Run(ctx, name, args...)
	if !res.OK() {
		a.Log.WithFields(logrus.Fields{
			"cmd":    command.Line(name, args...),
			"rc":     res.ExitCode,
			"stderr": strings.TrimSpace(res.Stderr),
		}).Warn("recovery step failed")
		return false
	}
	return true
}

// restore runs a bring-up step detached from ctx, which is already cancelled
func (a *Actuator) restore(ctx context.Context, name string, args ...string) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()
	return a.run(rctx, name, args...)
}

func (a *Actuator) settle(ctx context.Context) bool {
	sleep := a.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if err := sleep(ctx, a.SettleDelay); err != nil {
		a.Log.WithError(err).Debug("recovery interrupted")
		return false
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
