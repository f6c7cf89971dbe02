package main

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// deviceRecord is the transient per-device state. A record exists only while
// it is useful: it either holds the timestamp of a recent connect, used to
// classify the next disconnect, or an armed reconnect timer, never more than
// one.
type deviceRecord struct {
	lastConnect time.Time
	pending     *reconnectTimer
}

// connectResult is a completed asynchronous connect attempt.
type connectResult struct {
	path dbus.ObjectPath
	err  error
}

// monitorStats are the counters reported over IPC.
type monitorStats struct {
	Tracked   int
	Pending   int
	Attempted int
	Succeeded int
	Failed    int
}

// monitor watches Connected flips on org.bluez.Device1 and reconnects devices
// that drop their link within the debounce window of connecting. Devices that
// disconnect after a stable session are left alone.
//
// All state lives in the devices map and is touched only from the run loop
// goroutine, so no lock guards it; timer callbacks and connect completions
// re-enter the loop through channels. Only the stats copy read by the IPC
// handler is behind a mutex.
type monitor struct {
	bus     deviceBus
	sched   *scheduler
	devices map[dbus.ObjectPath]*deviceRecord
	window  time.Duration
	verbose bool

	completions chan connectResult
	now         func() time.Time

	mu    sync.Mutex
	stats monitorStats
}

func newMonitor(bus deviceBus, sched *scheduler, cfg *Config) *monitor {
	return &monitor{
		bus:         bus,
		sched:       sched,
		devices:     make(map[dbus.ObjectPath]*deviceRecord),
		window:      cfg.window,
		verbose:     cfg.Verbose,
		completions: make(chan connectResult, 16),
		now:         time.Now,
	}
}

// run processes bus notifications, timer fires, and connect completions one
// at a time until ctx is cancelled or the signal channel closes.
func (m *monitor) run(ctx context.Context, signals <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			m.handleSignal(sig)
		case fire := <-m.sched.fireCh:
			m.handleTimer(fire)
		case res := <-m.completions:
			m.handleCompletion(res)
		}
	}
}

// handleSignal filters a raw PropertiesChanged signal down to Device1
// Connected flips and feeds them to the state machine.
func (m *monitor) handleSignal(sig *dbus.Signal) {
	if sig.Name != propsSignal {
		return
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	connVar, ok := changed["Connected"]
	if !ok {
		return
	}
	connected, ok := connVar.Value().(bool)
	if !ok {
		return
	}
	m.onConnectedChange(sig.Path, connected)
}

// onConnectedChange is the state machine entry point for one device's
// connectivity flip.
func (m *monitor) onConnectedChange(path dbus.ObjectPath, connected bool) {
	if m.verbose {
		infoLog.Printf("%s: Connected changed to %t", deviceName(path), connected)
	}

	if connected {
		rec := m.devices[path]
		if rec == nil {
			rec = &deviceRecord{}
			m.devices[path] = rec
		}
		if rec.pending != nil {
			m.sched.cancel(rec.pending)
			rec.pending = nil
			if m.verbose {
				infoLog.Printf("%s: reconnected on its own, dropping pending attempt", deviceName(path))
			}
		}
		rec.lastConnect = m.now()
		m.syncStats()
		return
	}

	rec := m.devices[path]
	if rec != nil && m.now().Sub(rec.lastConnect) < m.window {
		// Link dropped right after connecting: the buggy pattern. Schedule
		// a single delayed reconnect, replacing any earlier one.
		m.sched.cancel(rec.pending)
		rec.pending = m.sched.arm(path, m.window)
		infoLog.Printf("%s: link dropped %s after connecting, retrying in %s",
			deviceName(path), m.now().Sub(rec.lastConnect).Round(time.Millisecond), m.window)
	} else {
		// Stable session ended on purpose; forget the device.
		delete(m.devices, path)
		if m.verbose {
			infoLog.Printf("%s: normal disconnect, not retrying", deviceName(path))
		}
	}
	m.syncStats()
}

// handleTimer runs when an armed delay elapses. Fires whose sequence no
// longer matches the device's live handle lost a race with a cancellation
// and are dropped.
func (m *monitor) handleTimer(fire timerFire) {
	rec := m.devices[fire.path]
	if rec == nil || rec.pending == nil || rec.pending.seq != fire.seq {
		return
	}
	// Drop the record before touching the bus, so notifications arriving
	// while the attempt is in flight start a fresh case instead of colliding
	// with it.
	delete(m.devices, fire.path)
	m.syncStats()
	m.reconnect(fire.path)
}

// reconnect is the body of a scheduled attempt: re-read the device's flags
// and, if it is still down and trusted, issue the connect call. The call is
// asynchronous; its outcome comes back through handleCompletion.
func (m *monitor) reconnect(path dbus.ObjectPath) {
	props, err := m.bus.DeviceProperties(path)
	if err != nil {
		errLog.Printf("%s: property query failed: %s", deviceName(path), dbusErrorDetail(err))
		return
	}
	if props.Connected {
		if m.verbose {
			infoLog.Printf("%s: already connected, nothing to do", deviceName(path))
		}
		return
	}
	if !props.Trusted {
		if m.verbose {
			infoLog.Printf("%s: not trusted, leaving it alone", deviceName(path))
		}
		return
	}

	infoLog.Printf("%s: reconnecting", deviceName(path))
	m.mu.Lock()
	m.stats.Attempted++
	m.mu.Unlock()

	errCh := m.bus.ConnectDevice(path)
	go func() {
		m.completions <- connectResult{path: path, err: <-errCh}
	}()
}

// handleCompletion logs the outcome of a connect attempt. It never re-arms
// the scheduler and never re-creates a record.
func (m *monitor) handleCompletion(res connectResult) {
	m.mu.Lock()
	if res.err != nil {
		m.stats.Failed++
	} else {
		m.stats.Succeeded++
	}
	m.mu.Unlock()

	if res.err != nil {
		errLog.Printf("%s: reconnect failed: %s", deviceName(res.path), dbusErrorDetail(res.err))
		return
	}
	infoLog.Printf("%s: reconnected", deviceName(res.path))
}

// syncStats refreshes the tracked/pending counters from the store. Called on
// the loop after every mutation.
func (m *monitor) syncStats() {
	pending := 0
	for _, rec := range m.devices {
		if rec.pending != nil {
			pending++
		}
	}
	m.mu.Lock()
	m.stats.Tracked = len(m.devices)
	m.stats.Pending = pending
	m.mu.Unlock()
}

// statusResponse snapshots the counters for the IPC status command.
func (m *monitor) statusResponse() IPCResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return IPCResponse{
		Tracked:   m.stats.Tracked,
		Pending:   m.stats.Pending,
		Attempted: m.stats.Attempted,
		Succeeded: m.stats.Succeeded,
		Failed:    m.stats.Failed,
	}
}
