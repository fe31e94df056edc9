package dbus

import (
	"wifimon/internal/state"

	"github.com/godbus/dbus/v5"
)

// Get implements org.freedesktop.DBus.Properties.Get
func (s *Service) Get(iface, propName string) (dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{"Unknown interface"})
	}

	props := statusProperties(s.stateMgr.Get())
	v, ok := props[propName]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{"Unknown property: " + propName})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll
func (s *Service) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{"Unknown interface"})
	}
	return statusProperties(s.stateMgr.Get()), nil
}

// Set implements org.freedesktop.DBus.Properties.Set (read-only, returns error)
func (s *Service) Set(iface, propName string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{"Properties are read-only"})
}

func statusProperties(st state.Status) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"State":         dbus.MakeVariant(string(st.State)),
		"SSID":          dbus.MakeVariant(st.SSID),
		"Interface":     dbus.MakeVariant(st.Interface),
		"Monitoring":    dbus.MakeVariant(st.Monitoring),
		"LastConnected": dbus.MakeVariant(unixOrZero(st)),
	}
}

// unixOrZero is LastConnectedAt in unix seconds, 0 for never
func unixOrZero(st state.Status) int64 {
	if st.LastConnectedAt.IsZero() {
		return 0
	}
	return st.LastConnectedAt.Unix()
}
