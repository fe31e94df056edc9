package dbus

import (
	"fmt"
	"sync"

	"wifimon/internal/state"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/sirupsen/logrus"
)

const (
	ServiceName = "org.deskdisplay.WifiMonitor"
	ObjectPath  = "/org/deskdisplay/WifiMonitor"
	Interface   = "org.deskdisplay.WifiMonitor"
)

// Service publishes the monitor status on D-Bus
type Service struct {
	conn     *dbus.Conn
	stateMgr *state.Manager
	probe    func()
	log      logrus.FieldLogger

	mu   sync.Mutex
	last state.Status
}

// NewService connects to the bus, claims ServiceName and exports the status
// object. probe is called for the Probe method and must not block.
func NewService(busType string, stateMgr *state.Manager, probe func(), log logrus.FieldLogger) (*Service, error) {
	conn, err := connect(busType)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to D-Bus: %w", err)
	}

	s := newService(conn, stateMgr, probe, log)

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("name %s already taken", ServiceName)
	}

	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	if err := conn.Export(s, ObjectPath, "org.freedesktop.DBus.Properties"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export properties: %w", err)
	}

	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:       Interface,
				Methods:    s.methods(),
				Properties: s.properties(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export introspection: %w", err)
	}

	stateMgr.SetOnChange(s.onStateChange)
	return s, nil
}

func newService(conn *dbus.Conn, stateMgr *state.Manager, probe func(), log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		conn:     conn,
		stateMgr: stateMgr,
		probe:    probe,
		log:      log,
		last:     stateMgr.Get(),
	}
}

func connect(busType string) (*dbus.Conn, error) {
	if busType == "system" {
		return dbus.SystemBus()
	}
	return dbus.SessionBus()
}

// Close detaches from the state manager and closes the bus connection
func (s *Service) Close() {
	s.stateMgr.SetOnChange(nil)
	s.conn.Close()
}

func (s *Service) onStateChange(st state.Status) {
	s.mu.Lock()
	changed := changedProperties(s.last, st)
	s.last = st
	s.mu.Unlock()

	if len(changed) == 0 || s.conn == nil {
		return
	}
	err := s.conn.Emit(ObjectPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
		Interface, changed, []string{})
	if err != nil {
		s.log.WithError(err).Warn("failed to emit PropertiesChanged")
	}
}

// changedProperties lists the properties that differ between two snapshots.
// LastConnected alone moves on every healthy probe and does not warrant a signal.
func changedProperties(prev, cur state.Status) map[string]dbus.Variant {
	changed := map[string]dbus.Variant{}
	if prev.State != cur.State {
		changed["State"] = dbus.MakeVariant(string(cur.State))
	}
	if prev.SSID != cur.SSID {
		changed["SSID"] = dbus.MakeVariant(cur.SSID)
	}
	if prev.Interface != cur.Interface {
		changed["Interface"] = dbus.MakeVariant(cur.Interface)
	}
	if prev.Monitoring != cur.Monitoring {
		changed["Monitoring"] = dbus.MakeVariant(cur.Monitoring)
	}
	if len(changed) > 0 && !prev.LastConnectedAt.Equal(cur.LastConnectedAt) {
		changed["LastConnected"] = dbus.MakeVariant(unixOrZero(cur))
	}
	return changed
}

func (s *Service) methods() []introspect.Method {
	return []introspect.Method{
		{Name: "Probe"},
	}
}

func (s *Service) properties() []introspect.Property {
	return []introspect.Property{
		{Name: "State", Type: "s", Access: "read"},
		{Name: "SSID", Type: "s", Access: "read"},
		{Name: "Interface", Type: "s", Access: "read"},
		{Name: "Monitoring", Type: "b", Access: "read"},
		{Name: "LastConnected", Type: "x", Access: "read"},
	}
}
