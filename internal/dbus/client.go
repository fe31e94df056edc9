package dbus

import (
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

// RemoteStatus is the status read back from a running daemon
type RemoteStatus struct {
	State         string
	SSID          string
	Interface     string
	Monitoring    bool
	LastConnected time.Time // Zero when never connected
}

func dial(busType string) (*dbus.Conn, error) {
	if busType == "system" {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

// QueryStatus reads all properties from the daemon on busType
func QueryStatus(busType string) (RemoteStatus, error) {
	conn, err := dial(busType)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("failed to connect to D-Bus: %w", err)
	}
	defer conn.Close()

	var props map[string]dbus.Variant
	err = conn.Object(ServiceName, ObjectPath).
		Call("org.freedesktop.DBus.Properties.GetAll", 0, Interface).
		Store(&props)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("query %s: %w", ServiceName, err)
	}
	return decodeStatus(props), nil
}

// RequestProbe asks the daemon on busType to probe immediately
func RequestProbe(busType string) error {
	conn, err := dial(busType)
	if err != nil {
		return fmt.Errorf("failed to connect to D-Bus: %w", err)
	}
	defer conn.Close()

	if err := conn.Object(ServiceName, ObjectPath).Call(Interface+".Probe", 0).Err; err != nil {
		return fmt.Errorf("probe %s: %w", ServiceName, err)
	}
	return nil
}

func decodeStatus(props map[string]dbus.Variant) RemoteStatus {
	var rs RemoteStatus
	if v, ok := props["State"].Value().(string); ok {
		rs.State = v
	}
	if v, ok := props["SSID"].Value().(string); ok {
		rs.SSID = v
	}
	if v, ok := props["Interface"].Value().(string); ok {
		rs.Interface = v
	}
	if v, ok := props["Monitoring"].Value().(bool); ok {
		rs.Monitoring = v
	}
	if v, ok := props["LastConnected"].Value().(int64); ok && v > 0 {
		rs.LastConnected = time.Unix(v, 0)
	}
	return rs
}
