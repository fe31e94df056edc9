package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wifimon/internal/command"
	"wifimon/internal/traffic"

	"github.com/sirupsen/logrus"
)

// Outcome classifies a probe for the state machine
type Outcome int

const (
	Healthy Outcome = iota
	NotAssociated
	NoRoute
	Unreachable
)

func (o Outcome) String() string {
	switch o {
	case Healthy:
		return "healthy"
	case NotAssociated:
		return "not_associated"
	case NoRoute:
		return "no_default_route"
	case Unreachable:
		return "ping_timeout"
	}
	return "unknown"
}

// Result is one connectivity observation
type Result struct {
	Associated        bool
	SSID              string
	HasDefaultRoute   bool
	InternetReachable bool
	HostsTried        []string

	// Reason names the failed check and its parameters, "" when healthy
	Reason string
	// Link is the raw link status used for association
	Link LinkInfo
}

// Outcome derives the classification from the individual checks
func (r Result) Outcome() Outcome {
	switch {
	case !r.Associated:
		return NotAssociated
	case !r.HasDefaultRoute:
		return NoRoute
	case !r.InternetReachable:
		return Unreachable
	}
	return Healthy
}

// Stderr fragments that mean the bound ping lacked privileges rather than a dead host
var permissionErrors = []string{
	"operation not permitted",
	"permission denied",
	"must be root",
	"requires cap_net_raw",
}

// Prober runs connectivity checks for one interface at a time
type Prober struct {
	Runner      command.Runner
	Link        LinkSource
	Routes      RouteTable
	Hosts       []string
	PingTimeout time.Duration
	DNS         *CachedCheck
	Traffic     *traffic.Sampler // Byte counters for reports, nil to skip
	Log         logrus.FieldLogger
}

// New creates a prober with the iw link source and netlink routes
func New(runner command.Runner, hosts []string, pingTimeout time.Duration, log logrus.FieldLogger) *Prober {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Prober{
		Runner:      runner,
		Link:        IwLink{Runner: runner},
		Routes:      NetlinkRoutes{},
		Hosts:       hosts,
		PingTimeout: pingTimeout,
		Traffic:     &traffic.Sampler{},
		Log:         log,
	}
	p.DNS = NewCachedCheck(time.Minute, p.dnsCheck("dns.google"))
	return p
}

// SetDNSProbe replaces the DNS sanity check target and cooldown
func (p *Prober) SetDNSProbe(host string, cooldown time.Duration) {
	p.DNS = NewCachedCheck(cooldown, p.dnsCheck(host))
}

// Probe determines association, routing and reachability for iface
func (p *Prober) Probe(ctx context.Context, iface string) Result {
	log := p.Log.WithField("iface", iface)
	var res Result

	link, err := p.Link.Link(ctx, iface)
	if err != nil {
		log.WithError(err).Debug("link status unavailable")
	}
	res.Link = link
	res.Associated = link.Associated
	res.SSID = link.SSID
	if res.SSID == "" {
		res.SSID = p.fallbackSSID(ctx)
	}
	// A discovered SSID proves association even if the link parse failed
	if res.SSID != "" {
		res.Associated = true
	}

	if !res.Associated {
		res.Reason = fmt.Sprintf("not_associated iface=%s", iface)
		return res
	}

	res.HasDefaultRoute = true
	switch ok, err := p.Routes.HasDefaultRoute(ctx, iface); {
	case errors.Is(err, ErrUnavailable):
		log.Debug("route table unavailable; skipping default route check")
	case err != nil:
		log.WithError(err).Debug("default route check failed")
		res.HasDefaultRoute = false
	default:
		res.HasDefaultRoute = ok
	}
	if !res.HasDefaultRoute {
		res.Reason = fmt.Sprintf("no_default_route iface=%s", iface)
		return res
	}

	res.InternetReachable, res.HostsTried = p.checkInternet(ctx, iface)
	if !res.InternetReachable {
		res.Reason = fmt.Sprintf("ping_timeout iface=%s hosts_tried='%s' timeout_s=%d",
			iface, strings.Join(res.HostsTried, " "), int(p.PingTimeout/time.Second))
	}
	return res
}

func (p *Prober) fallbackSSID(ctx context.Context) string {
	if p.Runner.Available("nmcli") {
		res := p.Runner.Run(ctx, "nmcli", "-t", "-f", "ACTIVE,SSID", "dev", "wifi")
		if res.OK() {
			if ssid := parseActiveSSID(res.Stdout); ssid != "" {
				return ssid
			}
		} else {
			p.Log.WithField("stderr", strings.TrimSpace(res.Stderr)).Debug("nmcli SSID lookup failed")
		}
	} else {
		p.Log.Debug("nmcli not available; skipping SSID lookup")
	}

	if p.Runner.Available("iwgetid") {
		res := p.Runner.Run(ctx, "iwgetid", "-r")
		if res.OK() {
			return strings.TrimSpace(res.Stdout)
		}
		p.Log.WithField("stderr", strings.TrimSpace(res.Stderr)).Debug("iwgetid failed")
	} else {
		p.Log.Debug("iwgetid not available; skipping SSID lookup")
	}
	return ""
}

func parseActiveSSID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		active, ssid, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if ok && active == "yes" && ssid != "" {
			return ssid
		}
	}
	return ""
}

// checkInternet pings each host once, preferring a probe bound to iface.
// A bound ping refused for lack of privileges is retried unbound on the same host.
func (p *Prober) checkInternet(ctx context.Context, iface string) (bool, []string) {
	var tried []string
	if !p.Runner.Available("ping") {
		p.Log.Debug("ping not available; skipping reachability check")
		return true, tried
	}

	timeout := strconv.Itoa(int(p.PingTimeout / time.Second))
	for _, host := range p.Hosts {
		if ctx.Err() != nil {
			break
		}
		tried = append(tried, host)

		needsFallback := iface == ""
		if iface != "" {
			res := p.Runner.Run(ctx, "ping", "-I", iface, "-c", "1", "-W", timeout, host)
			if res.OK() {
				return true, tried
			}
			stderr := strings.TrimSpace(res.Stderr)
			p.Log.WithFields(logrus.Fields{
				"iface":  iface,
				"host":   host,
				"rc":     res.ExitCode,
				"stderr": stderr,
			}).Debug("bound ping failed")
			needsFallback = isPermissionError(stderr)
		}

		if needsFallback {
			res := p.Runner.Run(ctx, "ping", "-c", "1", "-W", timeout, host)
			if res.OK() {
				return true, tried
			}
			p.Log.WithFields(logrus.Fields{
				"host":   host,
				"rc":     res.ExitCode,
				"stderr": strings.TrimSpace(res.Stderr),
			}).Debug("ping failed")
		}
	}
	return false, tried
}

func isPermissionError(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, keyword := range permissionErrors {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func (p *Prober) dnsCheck(host string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		if !p.Runner.Available("getent") {
			p.Log.Debug("getent not available; skipping DNS check")
			return false
		}
		return p.Runner.Run(ctx, "getent", "hosts", host).OK()
	}
}
