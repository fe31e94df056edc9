// Package iwd reads association state from the iwd daemon over D-Bus.
package iwd

import (
	"context"
	"fmt"
	"sync"

	"wifimon/internal/probe"

	"github.com/godbus/dbus/v5"
)

const (
	IWDService   = "net.connman.iwd"
	StationIface = "net.connman.iwd.Station"
	DeviceIface  = "net.connman.iwd.Device"
	NetworkIface = "net.connman.iwd.Network"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// station is the subset of an iwd Station we care about
type station struct {
	path    dbus.ObjectPath
	state   string
	network dbus.ObjectPath
}

// Link is a probe.LinkSource backed by iwd's Station objects
type Link struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func (l *Link) bus() (*dbus.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", probe.ErrUnavailable, err)
	}
	l.conn = conn
	return conn, nil
}

// Close releases the bus connection
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *Link) Link(ctx context.Context, iface string) (probe.LinkInfo, error) {
	conn, err := l.bus()
	if err != nil {
		return probe.LinkInfo{}, err
	}

	var objects managedObjects
	err = conn.Object(IWDService, "/").
		CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		// Usually iwd is not running
		return probe.LinkInfo{}, fmt.Errorf("%w: iwd managed objects: %v", probe.ErrUnavailable, err)
	}

	st, ok := findStation(objects, iface)
	if !ok {
		return probe.LinkInfo{}, fmt.Errorf("no iwd station for %s", iface)
	}
	if !connected(st.state) {
		return probe.LinkInfo{}, nil
	}

	info := probe.LinkInfo{Associated: true}
	if props, ok := objects[st.network][NetworkIface]; ok {
		info.SSID = stringProp(props, "Name")
	}
	info.SignalDBM = l.signal(ctx, conn, st)
	return info, nil
}

// signal returns the active network's RSSI in dBm, 0 when unknown
func (l *Link) signal(ctx context.Context, conn *dbus.Conn, st station) int {
	type orderedNetwork struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	var result []orderedNetwork
	err := conn.Object(IWDService, st.path).
		CallWithContext(ctx, StationIface+".GetOrderedNetworks", 0).
		Store(&result)
	if err != nil {
		return 0
	}
	for _, n := range result {
		if n.Path == st.network {
			// RSSI is in 1/100 dBm units
			return int(n.RSSI / 100)
		}
	}
	return 0
}

// findStation locates the Station on the device named iface
func findStation(objects managedObjects, iface string) (station, bool) {
	for path, ifaces := range objects {
		stationProps, ok := ifaces[StationIface]
		if !ok {
			continue
		}
		devProps, ok := ifaces[DeviceIface]
		if !ok || stringProp(devProps, "Name") != iface {
			continue
		}
		st := station{path: path, state: stringProp(stationProps, "State")}
		if v, ok := stationProps["ConnectedNetwork"]; ok {
			st.network, _ = v.Value().(dbus.ObjectPath)
		}
		return st, true
	}
	return station{}, false
}

func connected(state string) bool {
	return state == "connected" || state == "roaming"
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		s, _ := v.Value().(string)
		return s
	}
	return ""
}
