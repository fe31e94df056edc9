package probe

import (
	"context"
	"fmt"
	"strconv"

	"wifimon/internal/traffic"

	"github.com/dustin/go-humanize"
)

// StatusReport is a diagnostic snapshot of the monitored link
type StatusReport struct {
	Iface        string
	Link         LinkInfo
	IPv4         string
	DefaultRoute bool
	DNSResolves  bool

	// Traffic is nil when the counters could not be read
	Traffic      *traffic.Counters
	TrafficDelta traffic.Counters
}

func (r StatusReport) String() string {
	s := fmt.Sprintf("Status iface=%s ssid=%s bssid=%s signal_dbm=%s freq_mhz=%s tx=%s ip=%s default_route=%s dns_resolve=%s",
		r.Iface,
		orUnknown(r.Link.SSID),
		orUnknown(r.Link.BSSID),
		intOrUnknown(r.Link.SignalDBM),
		intOrUnknown(r.Link.FreqMHz),
		orUnknown(r.Link.TxBitrate),
		orNone(r.IPv4),
		yesNo(r.DefaultRoute),
		yesNo(r.DNSResolves),
	)
	if r.Traffic != nil {
		s += fmt.Sprintf(" rx=%s tx=%s rx_delta=%s tx_delta=%s",
			humanize.Bytes(r.Traffic.RX),
			humanize.Bytes(r.Traffic.TX),
			humanize.Bytes(r.TrafficDelta.RX),
			humanize.Bytes(r.TrafficDelta.TX),
		)
	}
	return s
}

// Report gathers diagnostics for the operator log. Never used for state transitions.
func (p *Prober) Report(ctx context.Context, iface string) StatusReport {
	rep := StatusReport{Iface: iface}

	if link, err := p.Link.Link(ctx, iface); err == nil {
		rep.Link = link
	}
	if rep.Link.SSID == "" {
		rep.Link.SSID = p.fallbackSSID(ctx)
	}
	if ip, err := p.Routes.IPv4(ctx, iface); err == nil {
		rep.IPv4 = ip
	}
	if ok, err := p.Routes.HasDefaultRoute(ctx, iface); err == nil {
		rep.DefaultRoute = ok
	}
	if p.DNS != nil {
		rep.DNSResolves = p.DNS.Get(ctx)
	}
	if p.Traffic != nil {
		if now, delta, err := p.Traffic.Sample(iface); err == nil {
			rep.Traffic = &now
			rep.TrafficDelta = delta
		} else {
			p.Log.WithError(err).Debug("traffic counters unavailable")
		}
	}
	return rep
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func intOrUnknown(v int) string {
	if v == 0 {
		return "?"
	}
	return strconv.Itoa(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
