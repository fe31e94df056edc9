package dbus

import "github.com/godbus/dbus/v5"

// Probe asks the monitor to re-check connectivity now instead of at its next interval
func (s *Service) Probe() *dbus.Error {
	s.log.Debug("probe requested over D-Bus")
	if s.probe != nil {
		s.probe()
	}
	return nil
}
