package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wifimon/internal/command"
	"wifimon/internal/command/commandtest"
	"wifimon/internal/traffic"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeLink struct {
	info LinkInfo
	err  error
}

func (f fakeLink) Link(context.Context, string) (LinkInfo, error) { return f.info, f.err }

type fakeRoutes struct {
	def    bool
	defErr error
	ip     string
}

func (f fakeRoutes) HasDefaultRoute(context.Context, string) (bool, error) { return f.def, f.defErr }
func (f fakeRoutes) IPv4(context.Context, string) (string, error)          { return f.ip, nil }

func newTestProber(runner *commandtest.Runner, link LinkSource, routes RouteTable, hosts ...string) *Prober {
	p := New(runner, hosts, 2*time.Second, quiet())
	p.Link = link
	p.Routes = routes
	p.Traffic = nil
	return p
}

const iwLinkOutput = `Connected to 3c:84:6a:aa:bb:cc (on wlan0)
	SSID: Kitchen Net
	freq: 5180.0
	RX: 1234 bytes (10 packets)
	TX: 567 bytes (5 packets)
	signal: -58 dBm
	rx bitrate: 200.0 MBit/s VHT-MCS 9 80MHz
	tx bitrate: 72.2 MBit/s MCS 7 short GI

	bss flags:	short-slot-time
	dtim period:	1
`

func TestParseIwLink(t *testing.T) {
	got := ParseIwLink(iwLinkOutput)
	want := LinkInfo{
		Associated: true,
		SSID:       "Kitchen Net",
		BSSID:      "3c:84:6a:aa:bb:cc",
		SignalDBM:  -58,
		FreqMHz:    5180,
		TxBitrate:  "72.2 MBit/s MCS 7 short GI",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseIwLink (-want +got):\n%s", diff)
	}

	if got := ParseIwLink("Not connected.\n"); got.Associated || got.SSID != "" {
		t.Errorf("not connected parsed as %+v", got)
	}
}

func TestIwLinkUnavailable(t *testing.T) {
	_, err := IwLink{Runner: &commandtest.Runner{Missing: map[string]bool{"iw": true}}}.Link(context.Background(), "wlan0")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestPingFallsBackWithoutInterfaceBinding(t *testing.T) {
	runner := &commandtest.Runner{Handler: func(name string, args []string) command.Result {
		for _, a := range args {
			if a == "-I" {
				return command.Result{ExitCode: 2, Stderr: "ping: connect: Operation not permitted"}
			}
		}
		return command.Result{}
	}}
	p := newTestProber(runner, nil, nil, "8.8.8.8")

	ok, tried := p.checkInternet(context.Background(), "wlan0")
	if !ok {
		t.Fatal("expected success from unbound retry")
	}
	if diff := cmp.Diff([]string{"8.8.8.8"}, tried); diff != "" {
		t.Errorf("tried (-want +got):\n%s", diff)
	}
	want := []string{
		"ping -I wlan0 -c 1 -W 2 8.8.8.8",
		"ping -c 1 -W 2 8.8.8.8",
	}
	if diff := cmp.Diff(want, runner.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

func TestPingFallbackBeforeNextHost(t *testing.T) {
	runner := &commandtest.Runner{Handler: func(name string, args []string) command.Result {
		line := command.Line(name, args...)
		switch {
		case strings.Contains(line, "-I"):
			return command.Result{ExitCode: 2, Stderr: "ping: socket: Permission denied, attempt to create raw socket requires CAP_NET_RAW"}
		case strings.HasSuffix(line, "9.9.9.9"):
			return command.Result{}
		}
		return command.Result{ExitCode: 1}
	}}
	p := newTestProber(runner, nil, nil, "1.1.1.1", "9.9.9.9")

	ok, tried := p.checkInternet(context.Background(), "wlan0")
	if !ok {
		t.Fatal("expected success on second host")
	}
	if diff := cmp.Diff([]string{"1.1.1.1", "9.9.9.9"}, tried); diff != "" {
		t.Errorf("tried (-want +got):\n%s", diff)
	}
	want := []string{
		"ping -I wlan0 -c 1 -W 2 1.1.1.1",
		"ping -c 1 -W 2 1.1.1.1",
		"ping -I wlan0 -c 1 -W 2 9.9.9.9",
		"ping -c 1 -W 2 9.9.9.9",
	}
	if diff := cmp.Diff(want, runner.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

func TestPingHostDownDoesNotFallBack(t *testing.T) {
	runner := &commandtest.Runner{Handler: func(string, []string) command.Result {
		return command.Result{ExitCode: 1, Stdout: "1 packets transmitted, 0 received, 100% packet loss"}
	}}
	p := newTestProber(runner, nil, nil, "1.1.1.1", "8.8.8.8")

	ok, tried := p.checkInternet(context.Background(), "wlan0")
	if ok {
		t.Fatal("expected failure")
	}
	if diff := cmp.Diff([]string{"1.1.1.1", "8.8.8.8"}, tried); diff != "" {
		t.Errorf("tried (-want +got):\n%s", diff)
	}
	for _, c := range runner.Calls() {
		if !strings.Contains(c, "-I wlan0") {
			t.Errorf("unexpected unbound ping %q", c)
		}
	}
}

func TestProbeOutcomes(t *testing.T) {
	associated := fakeLink{info: LinkInfo{Associated: true, SSID: "home"}}
	pingOK := &commandtest.Runner{}
	pingDown := &commandtest.Runner{Handler: func(name string, _ []string) command.Result {
		if name == "ping" {
			return command.Result{ExitCode: 1}
		}
		return command.Result{}
	}}

	tests := []struct {
		name       string
		runner     *commandtest.Runner
		link       LinkSource
		routes     RouteTable
		want       Outcome
		wantReason string
	}{
		{
			name:   "healthy",
			runner: pingOK, link: associated, routes: fakeRoutes{def: true},
			want: Healthy,
		},
		{
			name:   "not associated",
			runner: &commandtest.Runner{Missing: map[string]bool{"nmcli": true, "iwgetid": true}},
			link:   fakeLink{}, routes: fakeRoutes{def: true},
			want: NotAssociated, wantReason: "not_associated iface=wlan0",
		},
		{
			name:   "no default route",
			runner: pingOK, link: associated, routes: fakeRoutes{def: false},
			want: NoRoute, wantReason: "no_default_route iface=wlan0",
		},
		{
			name:   "route lookup error",
			runner: pingOK, link: associated, routes: fakeRoutes{defErr: errors.New("netlink: boom")},
			want: NoRoute, wantReason: "no_default_route iface=wlan0",
		},
		{
			name:   "route table unavailable is skipped",
			runner: pingOK, link: associated, routes: fakeRoutes{defErr: ErrUnavailable},
			want: Healthy,
		},
		{
			name:   "unreachable",
			runner: pingDown, link: associated, routes: fakeRoutes{def: true},
			want: Unreachable, wantReason: "ping_timeout iface=wlan0 hosts_tried='1.1.1.1 8.8.8.8' timeout_s=2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber(tt.runner, tt.link, tt.routes, "1.1.1.1", "8.8.8.8")
			res := p.Probe(context.Background(), "wlan0")
			if got := res.Outcome(); got != tt.want {
				t.Errorf("Outcome = %s, want %s (%+v)", got, tt.want, res)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestProbeSSIDFallbackImpliesAssociation(t *testing.T) {
	runner := &commandtest.Runner{Responses: map[string]command.Result{
		"nmcli -t -f ACTIVE,SSID dev wifi": {Stdout: "no:Neighbour\nyes:Upstairs\n"},
	}}
	p := newTestProber(runner, fakeLink{err: errors.New("iw: garbled")}, fakeRoutes{def: true}, "1.1.1.1")

	res := p.Probe(context.Background(), "wlan0")
	if !res.Associated || res.SSID != "Upstairs" {
		t.Fatalf("result = %+v, want associated to Upstairs", res)
	}
	if res.Outcome() != Healthy {
		t.Errorf("Outcome = %s", res.Outcome())
	}
}

func TestProbeSSIDFromIwgetid(t *testing.T) {
	runner := &commandtest.Runner{
		Missing:   map[string]bool{"nmcli": true},
		Responses: map[string]command.Result{"iwgetid -r": {Stdout: "Legacy\n"}},
	}
	p := newTestProber(runner, fakeLink{}, fakeRoutes{def: true}, "1.1.1.1")
	if res := p.Probe(context.Background(), "wlan0"); res.SSID != "Legacy" || !res.Associated {
		t.Errorf("result = %+v", res)
	}
}

func TestHasDefaultVia(t *testing.T) {
	routes := []route{
		{dst: net.ParseIP("192.168.1.0"), dstLen: 24, outIface: 3},
		{dst: nil, dstLen: 0, outIface: 2}, // eth0
	}
	if hasDefaultVia(routes, 3) {
		t.Error("default route via another interface must not count")
	}
	routes = append(routes, route{dstLen: 0, outIface: 3})
	if !hasDefaultVia(routes, 3) {
		t.Error("default route via wlan0 not found")
	}
}

func TestCommandRoutes(t *testing.T) {
	runner := &commandtest.Runner{Responses: map[string]command.Result{
		"ip route show default dev wlan0": {Stdout: "default via 192.168.1.1 proto dhcp metric 600\n"},
		"ip route show default dev wlan1": {Stdout: ""},
		"ip -4 addr show dev wlan0": {Stdout: "3: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500\n" +
			"    inet 192.168.1.23/24 brd 192.168.1.255 scope global dynamic wlan0\n"},
	}}
	r := CommandRoutes{Runner: runner}
	ctx := context.Background()

	if ok, err := r.HasDefaultRoute(ctx, "wlan0"); !ok || err != nil {
		t.Errorf("wlan0 default = %v, %v", ok, err)
	}
	if ok, _ := r.HasDefaultRoute(ctx, "wlan1"); ok {
		t.Error("empty output counted as default route")
	}
	if ip, err := r.IPv4(ctx, "wlan0"); ip != "192.168.1.23" || err != nil {
		t.Errorf("IPv4 = %q, %v", ip, err)
	}

	missing := CommandRoutes{Runner: &commandtest.Runner{Missing: map[string]bool{"ip": true}}}
	if _, err := missing.HasDefaultRoute(ctx, "wlan0"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCachedCheckCooldown(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	c := NewCachedCheck(time.Minute, func(context.Context) bool {
		calls++
		return calls%2 == 1
	})
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if !c.Get(ctx) || !c.Get(ctx) || calls != 1 {
		t.Fatalf("first window: calls = %d", calls)
	}
	now = now.Add(61 * time.Second)
	if c.Get(ctx) || calls != 2 {
		t.Fatalf("after cooldown: calls = %d", calls)
	}
	c.Invalidate()
	if !c.Get(ctx) || calls != 3 {
		t.Fatalf("after invalidate: calls = %d", calls)
	}
}

func TestReportTraffic(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "wlan0", "statistics")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(rx, tx string) {
		os.WriteFile(filepath.Join(dir, "rx_bytes"), []byte(rx), 0o644)
		os.WriteFile(filepath.Join(dir, "tx_bytes"), []byte(tx), 0o644)
	}
	runner := &commandtest.Runner{Missing: map[string]bool{"getent": true}}
	p := newTestProber(runner, fakeLink{}, fakeRoutes{})
	p.Traffic = &traffic.Sampler{Reader: traffic.Reader{Root: root}}

	write("2000000", "1000")
	p.Report(context.Background(), "wlan0")
	write("2500000", "1000")
	rep := p.Report(context.Background(), "wlan0")

	if !strings.HasSuffix(rep.String(), " rx=2.5 MB tx=1.0 kB rx_delta=500 kB tx_delta=0 B") {
		t.Errorf("Report = %s", rep)
	}
}

func TestReportString(t *testing.T) {
	runner := &commandtest.Runner{Missing: map[string]bool{"getent": true}}
	p := newTestProber(runner, fakeLink{info: ParseIwLink(iwLinkOutput)}, fakeRoutes{def: true, ip: "10.0.0.7"})

	got := p.Report(context.Background(), "wlan0").String()
	want := "Status iface=wlan0 ssid=Kitchen Net bssid=3c:84:6a:aa:bb:cc signal_dbm=-58 freq_mhz=5180 " +
		"tx=72.2 MBit/s MCS 7 short GI ip=10.0.0.7 default_route=yes dns_resolve=no"
	if got != want {
		t.Errorf("Report =\n%s\nwant\n%s", got, want)
	}
}
