package monitor

import (
	"time"

	"wifimon/internal/probe"
	"wifimon/internal/state"
)

// decision is what the loop should do after one probe
type decision struct {
	publish bool
	state   state.Connectivity
	streak  int

	// opened is set on the failure that starts a recovery episode
	opened bool
	// recovered is set on the first healthy probe closing an episode
	recovered bool
	downtime  time.Duration

	recover bool
	wait    time.Duration
}

type timing struct {
	healthy   time.Duration
	retry     time.Duration
	transient time.Duration
}

// tracker turns raw probe results into published states. A failure is
// absorbed while the consecutive failure count is at most maxFails.
type tracker struct {
	maxFails int
	timing   timing

	streak       int
	episodeStart time.Time
}

func newTracker(maxFails int, t timing) *tracker {
	return &tracker{maxFails: maxFails, timing: t}
}

func candidate(o probe.Outcome) state.Connectivity {
	switch o {
	case probe.Healthy:
		return state.Ok
	case probe.NotAssociated:
		return state.NoWifi
	}
	return state.NoInternet
}

func (t *tracker) observe(res probe.Result, now time.Time) decision {
	outcome := res.Outcome()
	if outcome == probe.Healthy {
		d := decision{publish: true, state: state.Ok, wait: t.timing.healthy}
		if !t.episodeStart.IsZero() {
			d.recovered = true
			d.downtime = now.Sub(t.episodeStart)
			t.episodeStart = time.Time{}
		}
		t.streak = 0
		return d
	}

	t.streak++
	if t.streak <= t.maxFails {
		return decision{streak: t.streak, wait: t.timing.transient}
	}

	d := decision{
		publish: true,
		state:   candidate(outcome),
		streak:  t.streak,
		recover: true,
		wait:    t.timing.retry,
	}
	if t.episodeStart.IsZero() {
		t.episodeStart = now
		d.opened = true
	}
	return d
}
