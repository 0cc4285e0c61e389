// Package workmanager is the Work Manager (spec §4.8, component C8): a
// facade that owns one worker for control-plane tasks and a separate
// scheduler for delete-range, routing schedule(task) between the two.
//
// Grounded on the teacher's xaction/registry.Registry singleton (one
// process-wide dispatch point everything else calls into) and the
// BgWorkManager shape used across aistore's async xaction kickoff:
// an unbounded best-effort queue plus a dedicated drain goroutine.
package workmanager

import (
	"time"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/background"
	"github.com/NVIDIA/rangecache/cmn"
	"github.com/NVIDIA/rangecache/deleterange"
	"github.com/NVIDIA/rangecache/tick"
)

// queueCap is the buffer of the internal channel queues; schedule()
// never blocks because a task that finds its queue full is handed to a
// goroutine of its own that waits to send it (spec §4.8 "queued
// unboundedly").
const queueCap = 256

// Manager owns the control-plane worker and the delete-range scheduler
// (spec §4.8). New installs both drain goroutines; Start begins the
// tick driver; Stop performs spec §4.8's ordered shutdown.
type Manager struct {
	controlPlane *background.Runner
	deleteRange  *deleterange.Runner
	tickDriver   *tick.Driver
	started      bool // set by Start; Stop joins the tick driver only once it runs

	controlQ chan background.Task
	deleteQ  chan background.DeleteRegions

	stop *cmn.StopCh
	done chan struct{}

	deleteRetryStop *cmn.StopCh
	deleteRetryDone chan struct{}
}

func New(controlPlane *background.Runner, deleteRange *deleterange.Runner, tickDriver *tick.Driver) *Manager {
	m := &Manager{
		controlPlane: controlPlane,
		deleteRange:  deleteRange,
		tickDriver:   tickDriver,
		controlQ:     make(chan background.Task, queueCap),
		deleteQ:      make(chan background.DeleteRegions, queueCap),
		stop:         cmn.NewStopCh(),
		done:         make(chan struct{}),
		deleteRetryStop: cmn.NewStopCh(),
		deleteRetryDone: make(chan struct{}),
	}
	go m.drainControlPlane()
	go m.drainDeleteRange()
	go m.driveDeleteRetry()
	return m
}

// Schedule routes task to its worker (spec §4.8 "schedule(task) routes
// DeleteRegions to the delete-range scheduler and all others to the
// control-plane scheduler"). Force semantics: always accepted.
func (m *Manager) Schedule(task background.Task) {
	if dr, ok := task.(background.DeleteRegions); ok {
		select {
		case m.deleteQ <- dr:
		default:
			go func() { m.deleteQ <- dr }() // never drop; queued unboundedly
		}
		return
	}
	select {
	case m.controlQ <- task:
	default:
		go func() { m.controlQ <- task }()
	}
}

// Start begins the tick driver, which is the only thing in this
// package that originates tasks on its own rather than in response to
// a Schedule call.
func (m *Manager) Start() {
	m.started = true
	go m.tickDriver.Run()
}

func (m *Manager) drainControlPlane() {
	defer close(m.done)
	for {
		select {
		case <-m.stop.Listen():
			return
		case task := <-m.controlQ:
			m.controlPlane.Handle(task)
		}
	}
}

func (m *Manager) drainDeleteRange() {
	for {
		select {
		case <-m.stop.Listen():
			return
		case dr := <-m.deleteQ:
			tasks := make([]deleterange.Task, 0, len(dr.Items))
			for _, item := range dr.Items {
				tasks = append(tasks, deleterange.Task{ID: item.ID, Range: item.Range})
			}
			m.deleteRange.Submit(tasks)
		}
	}
}

func (m *Manager) driveDeleteRetry() {
	defer close(m.deleteRetryDone)
	ticker := time.NewTicker(deleterange.RetryInterval())
	defer ticker.Stop()
	for {
		select {
		case <-m.deleteRetryStop.Listen():
			return
		case <-ticker.C:
			m.deleteRange.RunDelayed()
		}
	}
}

// Stop performs spec §4.8's drop semantics: stop the tick driver, join
// it, then stop all workers, in that order.
func (m *Manager) Stop() {
	m.tickDriver.Stop()
	if m.started {
		m.tickDriver.Join()
	}

	m.stop.Close()
	<-m.done

	m.deleteRetryStop.Close()
	<-m.deleteRetryDone

	glog.V(3).Info("workmanager: shutdown complete")
}
