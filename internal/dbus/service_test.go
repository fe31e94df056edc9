package dbus

import (
	"io"
	"testing"
	"time"

	"wifimon/internal/state"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func quietService(t *testing.T, probe func()) (*Service, *state.Manager) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	mgr := state.NewManager()
	return newService(nil, mgr, probe, l), mgr
}

func TestGetAll(t *testing.T) {
	s, mgr := quietService(t, nil)
	at := time.Unix(1700000000, 0)
	mgr.Update(func(st *state.Status) {
		st.Interface = "wlan0"
		st.Monitoring = true
	})
	mgr.Publish(state.Ok, "home", at)

	props, dErr := s.GetAll(Interface)
	if dErr != nil {
		t.Fatal(dErr)
	}
	got := decodeStatus(props)
	want := RemoteStatus{State: "ok", SSID: "home", Interface: "wlan0", Monitoring: true, LastConnected: at}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetAll (-want +got):\n%s", diff)
	}

	if _, dErr := s.GetAll("org.example.Other"); dErr == nil {
		t.Error("unknown interface accepted")
	}
}

func TestGetNeverConnected(t *testing.T) {
	s, _ := quietService(t, nil)

	v, dErr := s.Get(Interface, "LastConnected")
	if dErr != nil {
		t.Fatal(dErr)
	}
	if v.Value().(int64) != 0 {
		t.Errorf("LastConnected = %v, want 0", v.Value())
	}
	v, _ = s.Get(Interface, "State")
	if v.Value().(string) != "no_wifi" {
		t.Errorf("State = %v", v.Value())
	}
	if _, dErr := s.Get(Interface, "Bogus"); dErr == nil {
		t.Error("unknown property accepted")
	}
	if dErr := s.Set(Interface, "State", dbus.MakeVariant("ok")); dErr == nil {
		t.Error("Set succeeded on read-only property")
	}
}

func TestChangedProperties(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	prev := state.Status{State: state.Ok, SSID: "home", LastConnectedAt: t0, Interface: "wlan0", Monitoring: true}

	heartbeat := prev
	heartbeat.LastConnectedAt = t0.Add(15 * time.Second)
	if got := changedProperties(prev, heartbeat); len(got) != 0 {
		t.Errorf("heartbeat produced %v", got)
	}

	lost := prev
	lost.State = state.NoWifi
	lost.SSID = ""
	got := changedProperties(prev, lost)
	if len(got) != 2 || got["State"].Value() != "no_wifi" || got["SSID"].Value() != "" {
		t.Errorf("changed = %v", got)
	}

	back := lost
	back.State = state.Ok
	back.SSID = "home"
	back.LastConnectedAt = t0.Add(time.Minute)
	got = changedProperties(lost, back)
	if got["LastConnected"].Value() != t0.Add(time.Minute).Unix() {
		t.Errorf("LastConnected not reported with state change: %v", got)
	}
}

func TestOnStateChangeTracksLastSnapshot(t *testing.T) {
	s, mgr := quietService(t, nil)
	mgr.SetOnChange(s.onStateChange)

	mgr.Publish(state.NoInternet, "home", time.Now())
	if s.last.State != state.NoInternet {
		t.Errorf("last = %+v", s.last)
	}
}

func TestProbeMethod(t *testing.T) {
	calls := 0
	s, _ := quietService(t, func() { calls++ })
	if dErr := s.Probe(); dErr != nil || calls != 1 {
		t.Errorf("Probe = %v, calls = %d", dErr, calls)
	}
}

func TestIsResume(t *testing.T) {
	tests := []struct {
		sig  *dbus.Signal
		want bool
	}{
		{&dbus.Signal{Name: prepareForSleep, Body: []interface{}{false}}, true},
		{&dbus.Signal{Name: prepareForSleep, Body: []interface{}{true}}, false},
		{&dbus.Signal{Name: prepareForSleep}, false},
		{&dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForShutdown", Body: []interface{}{false}}, false},
		{nil, false},
	}
	for i, tt := range tests {
		if got := isResume(tt.sig); got != tt.want {
			t.Errorf("case %d: isResume = %v, want %v", i, got, tt.want)
		}
	}
}
