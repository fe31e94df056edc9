package iface

import (
	"bufio"
	"context"
	"strings"

	"wifimon/internal/command"

	"github.com/sirupsen/logrus"
)

// p2pPrefix marks peer-to-peer virtual interfaces, never worth monitoring
const p2pPrefix = "p2p-"

// Device is one row of `nmcli dev status`
type Device struct {
	Name  string
	Type  string
	State string
}

// Connected reports whether NetworkManager considers the device up
// ("connected", "connected (externally)", ...)
func (d Device) Connected() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(d.State)), "connected")
}

// Resolver picks the interface to watch
type Resolver struct {
	Runner   command.Runner
	Override string // Trusted unconditionally when set
	Log      logrus.FieldLogger
}

// NewResolver creates a resolver
func NewResolver(runner command.Runner, override string, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{Runner: runner, Override: override, Log: log}
}

// Detect returns the interface to monitor, or "" when none can be found
func (r *Resolver) Detect(ctx context.Context) string {
	if r.Override != "" {
		return r.Override
	}

	if wifi := WifiDevices(r.devices(ctx)); len(wifi) > 0 {
		return wifi[0]
	}

	if !r.Runner.Available("iw") {
		r.Log.Debug("iw not available; skipping wireless interface scan")
		return ""
	}
	res := r.Runner.Run(ctx, "iw", "dev")
	if !res.OK() {
		r.Log.WithField("stderr", strings.TrimSpace(res.Stderr)).Debug("iw dev failed")
		return ""
	}
	for _, name := range ParseIwDev(res.Stdout) {
		if strings.HasPrefix(name, p2pPrefix) {
			continue
		}
		return name
	}
	return ""
}

// HasActiveEthernet reports whether NetworkManager has a connected ethernet device
func (r *Resolver) HasActiveEthernet(ctx context.Context) bool {
	for _, dev := range r.devices(ctx) {
		if dev.Type == "ethernet" && dev.Connected() {
			return true
		}
	}
	return false
}

func (r *Resolver) devices(ctx context.Context) []Device {
	if !r.Runner.Available("nmcli") {
		r.Log.Debug("nmcli not available; skipping NetworkManager device query")
		return nil
	}
	res := r.Runner.Run(ctx, "nmcli", "-t", "-f", "DEVICE,TYPE,STATE", "dev", "status")
	if !res.OK() {
		r.Log.WithField("stderr", strings.TrimSpace(res.Stderr)).Debug("nmcli dev status failed")
		return nil
	}
	return ParseDeviceStatus(res.Stdout)
}

// ParseDeviceStatus parses terse `nmcli -t -f DEVICE,TYPE,STATE dev status` output
func ParseDeviceStatus(out string) []Device {
	var devices []Device
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		devices = append(devices, Device{Name: parts[0], Type: parts[1], State: parts[2]})
	}
	return devices
}

// WifiDevices returns wifi device names, connected ones first, each group in report order
func WifiDevices(devices []Device) []string {
	var connected, others []string
	for _, dev := range devices {
		if dev.Type != "wifi" {
			continue
		}
		if dev.Connected() {
			connected = append(connected, dev.Name)
		} else {
			others = append(others, dev.Name)
		}
	}
	return append(connected, others...)
}

// ParseIwDev extracts interface names from `iw dev`
func ParseIwDev(out string) []string {
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "Interface" {
			names = append(names, fields[1])
		}
	}
	return names
}
