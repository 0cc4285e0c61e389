// Package tick is the Tick Driver (spec §4.6, component C6): it owns
// the two periodic tickers — gc_interval and load_evict_interval — that
// drive the background control plane, translating wall-clock time into
// scheduled tasks.
//
// Grounded on the teacher's lru package, which starts its own idle
// timer and periodic capacity-check ticker (lru.go's `ticker` use) to
// decide when to run without being told by a caller.
package tick

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/background"
	"github.com/NVIDIA/rangecache/cmn"
	"github.com/NVIDIA/rangecache/placement"
)

// Driver runs the two tickers until Stop is called (spec §4.6).
type Driver struct {
	gcInterval        time.Duration
	loadEvictInterval time.Duration
	placement         placement.Service
	schedule          func(background.Task)

	stop *cmn.StopCh
	done chan struct{}
}

func New(gcInterval, loadEvictInterval time.Duration, svc placement.Service, schedule func(background.Task)) *Driver {
	return &Driver{
		gcInterval: gcInterval, loadEvictInterval: loadEvictInterval,
		placement: svc, schedule: schedule,
		stop: cmn.NewStopCh(), done: make(chan struct{}),
	}
}

// Run blocks until Stop is called; callers start it in its own
// goroutine. Ordering: both tickers feed into the same select loop, so
// GC and load-evict ticks are processed in arrival order (spec §4.6
// "tick events are processed in arrival order"); a tick that fires
// while the previous one of its own kind is still being handled is not
// queued — a missed tick is not retried, since schedule() itself
// returns immediately (spec §4.8's "force" semantics) and only the next
// wall-clock tick re-fires.
func (d *Driver) Run() {
	defer close(d.done)

	gcTicker := time.NewTicker(d.gcInterval)
	defer gcTicker.Stop()
	loadEvictTicker := time.NewTicker(d.loadEvictInterval)
	defer loadEvictTicker.Stop()

	for {
		select {
		case <-d.stop.Listen():
			return
		case <-gcTicker.C:
			d.onGcTick()
		case <-loadEvictTicker.C:
			d.schedule(background.TopRegionsLoadEvict{})
		}
	}
}

func (d *Driver) onGcTick() {
	ctx, cancel := context.WithTimeout(context.Background(), placement.TSOTimeout(d.gcInterval))
	defer cancel()
	ts, err := d.placement.GetTSO(ctx)
	if err != nil {
		glog.Warningf("tick: gc tick timestamp fetch failed, skipping: %v", err)
		return
	}
	safePoint := placement.Compose(ts.Physical-d.gcInterval.Milliseconds(), 0)
	d.schedule(background.Gc{SafePoint: safePoint})
}

// Stop requests shutdown; Join blocks until Run has returned (spec
// §4.8 "stop the tick driver, join it").
func (d *Driver) Stop() { d.stop.Close() }
func (d *Driver) Join() { <-d.done }
