// Package monitor runs the background connectivity loop and exposes its
// published state.
package monitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"wifimon/internal/command"
	"wifimon/internal/config"
	"wifimon/internal/iface"
	"wifimon/internal/iwd"
	"wifimon/internal/logging"
	"wifimon/internal/probe"
	"wifimon/internal/recovery"
	"wifimon/internal/state"

	"github.com/sirupsen/logrus"
)

// DefaultStopTimeout bounds how long Stop waits for the loop to exit
const DefaultStopTimeout = 5 * time.Second

// Prober observes connectivity for one interface
type Prober interface {
	Probe(ctx context.Context, iface string) probe.Result
	Report(ctx context.Context, iface string) probe.StatusReport
}

// Actuator attempts to repair the link
type Actuator interface {
	DisablePowerSave(ctx context.Context, iface string)
	Attempt(ctx context.Context, iface string)
}

// Resolver picks the interface to supervise
type Resolver interface {
	Detect(ctx context.Context) string
	HasActiveEthernet(ctx context.Context) bool
}

// Journal is the pair of on-disk logs
type Journal interface {
	System(format string, args ...any)
	User(format string, args ...any)
	PrepareUserLog()
	UserPath() string
}

// Monitor supervises one Wi-Fi interface
type Monitor struct {
	cfg config.Config

	runner   command.Runner
	prober   Prober
	actuator Actuator
	resolver Resolver
	journal  Journal
	log      logrus.FieldLogger
	status   *state.Manager
	now      func() time.Time
	timing   *timing

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	iface   string
	wake    chan struct{}
}

// Option customises a Monitor
type Option func(*Monitor)

// WithRunner sets the command runner used by the default collaborators
func WithRunner(r command.Runner) Option { return func(m *Monitor) { m.runner = r } }

// WithProber replaces the connectivity prober built from the config
func WithProber(p Prober) Option { return func(m *Monitor) { m.prober = p } }

// WithActuator replaces the recovery actuator
func WithActuator(a Actuator) Option { return func(m *Monitor) { m.actuator = a } }

// WithResolver replaces interface detection
func WithResolver(r Resolver) Option { return func(m *Monitor) { m.resolver = r } }

// WithJournal replaces the system and user log files
func WithJournal(j Journal) Option { return func(m *Monitor) { m.journal = j } }

// WithLogger sets the process logger (logrus standard logger by default)
func WithLogger(l logrus.FieldLogger) Option { return func(m *Monitor) { m.log = l } }

// WithClock replaces time.Now for state timestamps and recovery durations
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithStatus shares a state manager, e.g. one already exported on D-Bus
func WithStatus(s *state.Manager) Option { return func(m *Monitor) { m.status = s } }

// WithTiming overrides the loop intervals from the config
func WithTiming(healthy, retry, transient time.Duration) Option {
	return func(m *Monitor) {
		m.timing = &timing{healthy: healthy, retry: retry, transient: transient}
	}
}

// New builds a monitor from cfg. Collaborators not supplied as options are
// constructed from the config.
func New(cfg config.Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:  cfg,
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.runner == nil {
		m.runner = command.Exec{Timeout: cfg.CommandTimeout(), Sudo: cfg.UseSudo}
	}
	if m.status == nil {
		m.status = state.NewManager()
	}
	if m.journal == nil {
		m.journal = logging.NewDual(cfg.SystemLog, logging.ResolveUserLog(cfg.UserLog), m.log)
	}
	if m.resolver == nil {
		m.resolver = iface.NewResolver(m.runner, cfg.Interface, m.log)
	}
	if m.prober == nil {
		m.prober = newProber(cfg, m.runner, m.log)
	}
	if m.actuator == nil {
		a := recovery.New(m.runner, m.journal, m.log)
		a.SettleDelay = cfg.RecoveryDownUpDelay()
		m.actuator = a
	}
	if m.timing == nil {
		m.timing = &timing{
			healthy:   cfg.CheckIntervalOK(),
			retry:     cfg.RetryInterval(),
			transient: cfg.TransientRetry(),
		}
	}
	return m
}

func newProber(cfg config.Config, runner command.Runner, log logrus.FieldLogger) *probe.Prober {
	p := probe.New(runner, cfg.PingHosts, cfg.PingTimeout(), log)
	p.SetDNSProbe(cfg.DNSProbeHost, cfg.DNSRecheck())
	switch cfg.LinkSource {
	case "nl80211":
		p.Link = &probe.NL80211Link{}
	case "iwd":
		p.Link = &iwd.Link{}
	}
	if cfg.RouteSource == "ip" {
		p.Routes = probe.CommandRoutes{Runner: runner}
	}
	return p
}

// Status returns the state manager the monitor publishes to
func (m *Monitor) Status() *state.Manager { return m.status }

// Start resolves the interface and launches the monitor goroutine. It is a
// no-op while a loop is active. Without a wireless interface, or with wired
// ethernet up, monitoring is declined and Ok is published.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		select {
		case <-m.done:
			// Previous loop exited on its own or after a timed out Stop
			m.done = nil
		default:
			return
		}
	}

	name := m.resolver.Detect(ctx)
	if name == "" {
		m.log.Warn("No wireless interface detected; Wi-Fi monitor disabled")
		m.decline()
		return
	}
	if m.resolver.HasActiveEthernet(ctx) {
		m.log.Info("Active ethernet connection detected; Wi-Fi monitor disabled")
		m.decline()
		return
	}

	m.journal.PrepareUserLog()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.iface = name
	m.cancel = cancel
	m.done = done
	m.running.Store(true)
	m.status.Update(func(st *state.Status) {
		st.Interface = name
		st.Monitoring = true
	})

	go m.run(loopCtx, name, done)
}

func (m *Monitor) decline() {
	now := m.now()
	m.status.Update(func(st *state.Status) {
		st.State = state.Ok
		st.SSID = ""
		st.LastConnectedAt = now
		st.Monitoring = false
	})
}

// Stop asks the loop to exit and waits up to timeout (DefaultStopTimeout when
// timeout <= 0). Safe to call repeatedly and without Start.
func (m *Monitor) Stop(timeout time.Duration) {
	m.mu.Lock()
	done, cancel := m.done, m.cancel
	m.mu.Unlock()

	if done == nil {
		return
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	cancel()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		m.mu.Lock()
		if m.done == done {
			m.done = nil
			m.cancel = nil
		}
		m.mu.Unlock()
	case <-t.C:
		// The loop is stuck in a subprocess; it still exits once that returns.
		// done stays set so a new Start cannot run a second loop meanwhile.
		m.log.WithField("timeout", timeout).Debug("Wi-Fi monitor did not stop in time")
	}
}

// WifiState returns the published state and SSID ("" when unknown)
func (m *Monitor) WifiState() (state.Connectivity, string) {
	st := m.status.Get()
	return st.State, st.SSID
}

// LastConnectedTime returns when Ok was last published
func (m *Monitor) LastConnectedTime() (time.Time, bool) {
	st := m.status.Get()
	return st.LastConnectedAt, !st.LastConnectedAt.IsZero()
}

// Running reports whether the monitor goroutine is alive
func (m *Monitor) Running() bool { return m.running.Load() }

// Interface returns the supervised interface, "" before a successful Start
func (m *Monitor) Interface() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iface
}

// Wake cuts the current wait short so the next probe runs immediately.
// Never blocks; wake-ups coalesce. The wait after a recovery attempt is not
// cut short, since the attempt itself bounces the link.
func (m *Monitor) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) run(ctx context.Context, name string, done chan struct{}) {
	defer close(done)
	defer m.running.Store(false)
	defer m.status.Update(func(st *state.Status) { st.Monitoring = false })
	defer func() {
		if c, ok := m.prober.(*probe.Prober); ok {
			if cl, ok := c.Link.(io.Closer); ok {
				cl.Close()
			}
		}
	}()

	log := m.log.WithField("iface", name)
	tr := newTracker(m.cfg.MaxFails, *m.timing)

	m.journal.System("Startup: begin iface=%s user_log=%s", name, m.journal.UserPath())
	m.actuator.DisablePowerSave(ctx, name)
	m.journal.System("%s", m.prober.Report(ctx, name))

	for ctx.Err() == nil {
		wait, recovering := m.tick(ctx, name, tr, log)
		if !m.sleep(ctx, wait, !recovering) {
			break
		}
	}
	m.journal.System("Wi-Fi monitor thread exiting")
}

// tick runs one probe. recovering is set when a recovery attempt ran.
func (m *Monitor) tick(ctx context.Context, name string, tr *tracker, log logrus.FieldLogger) (wait time.Duration, recovering bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Wi-Fi monitor iteration failed")
			wait, recovering = m.timing.transient, false
		}
	}()

	res := m.prober.Probe(ctx, name)
	if ctx.Err() != nil {
		return 0, false
	}
	now := m.now()
	d := tr.observe(res, now)

	if d.publish {
		m.status.Publish(d.state, res.SSID, now)
	}

	switch {
	case d.recovered:
		secs := int(d.downtime / time.Second)
		m.journal.User("Recovered connection on %s after %ds.", name, secs)
		m.journal.System("Recovered: iface=%s duration_s=%d", name, secs)
		m.journal.System("%s", m.prober.Report(ctx, name))
	case !d.publish:
		m.journal.System("Transient fail: %s fail_count=%d/%d", res.Reason, d.streak, m.cfg.MaxFails)
	case d.recover:
		m.journal.System("Fail: %s fail_count=%d/%d", res.Reason, d.streak, m.cfg.MaxFails)
		m.journal.System("%s", m.prober.Report(ctx, name))
		if d.opened {
			m.journal.User("Lost connection on %s - starting recovery attempts.", name)
			m.journal.System("Recover: start iface=%s", name)
		}
		m.actuator.Attempt(ctx, name)
	}
	return d.wait, d.recover
}

// sleep waits d, returning early on a wake-up when wakeable. Wake-ups raised
// during an unwakeable wait are discarded. False means stop.
func (m *Monitor) sleep(ctx context.Context, d time.Duration, wakeable bool) bool {
	if ctx.Err() != nil {
		return false
	}
	wake := m.wake
	if !wakeable {
		m.drainWake()
		wake = nil
		defer m.drainWake()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-wake:
	}
	return true
}

func (m *Monitor) drainWake() {
	select {
	case <-m.wake:
	default:
	}
}
