package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName     = "org.bluez"
	deviceIface = "org.bluez.Device1"
	propsIface  = "org.freedesktop.DBus.Properties"
	propsSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// deviceProps holds the two org.bluez.Device1 flags the monitor cares about.
type deviceProps struct {
	Connected bool
	Trusted   bool
}

// deviceBus is the slice of BlueZ the monitor needs: read a device's current
// flags and kick off an asynchronous connect. *bluez implements it against
// the system bus; tests substitute an in-memory fake.
type deviceBus interface {
	DeviceProperties(path dbus.ObjectPath) (deviceProps, error)
	ConnectDevice(path dbus.ObjectPath) <-chan error
}

// macFromPath extracts a MAC address from a BlueZ device object path like
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF". Works for any adapter.
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/")
	if i < 0 || !strings.HasPrefix(s[i+1:], "dev_") {
		return ""
	}
	return strings.ReplaceAll(s[i+1+len("dev_"):], "_", ":")
}

// deviceName renders a device object path for log lines: the MAC address when
// the path has the usual BlueZ shape, the raw path otherwise.
func deviceName(path dbus.ObjectPath) string {
	if mac := macFromPath(path); mac != "" {
		return mac
	}
	return string(path)
}

// dbusErrorDetail formats an error, including the D-Bus error name when the
// bus supplied one.
func dbusErrorDetail(err error) string {
	var dberr dbus.Error
	if errors.As(err, &dberr) {
		return fmt.Sprintf("%s: %s", dberr.Name, dberr.Error())
	}
	return err.Error()
}

// bluez wraps a system D-Bus connection for BlueZ operations.
type bluez struct {
	conn *dbus.Conn
}

func newBluez() (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus — is bluetooth.service running?")
	}
	return &bluez{conn: conn}, nil
}

func (b *bluez) close() {
	b.conn.Close()
}

// DeviceProperties reads the current org.bluez.Device1 property set for a
// device and picks out the Connected and Trusted flags.
func (b *bluez) DeviceProperties(path dbus.ObjectPath) (deviceProps, error) {
	obj := b.conn.Object(busName, path)
	var all map[string]dbus.Variant
	if err := obj.Call(propsIface+".GetAll", 0, deviceIface).Store(&all); err != nil {
		return deviceProps{}, err
	}
	var p deviceProps
	if v, ok := all["Connected"].Value().(bool); ok {
		p.Connected = v
	}
	if v, ok := all["Trusted"].Value().(bool); ok {
		p.Trusted = v
	}
	return p, nil
}

// ConnectDevice issues Device1.Connect without waiting for the reply. The
// returned channel delivers the call's outcome exactly once.
func (b *bluez) ConnectDevice(path dbus.ObjectPath) <-chan error {
	obj := b.conn.Object(busName, path)
	done := make(chan *dbus.Call, 1)
	obj.Go(deviceIface+".Connect", 0, done)
	errCh := make(chan error, 1)
	go func() {
		call := <-done
		errCh <- call.Err
	}()
	return errCh
}

// subscribePropertyChanges registers a wildcard match for PropertiesChanged
// under /org/bluez, so devices on every adapter are covered without
// per-adapter bookkeeping.
func (b *bluez) subscribePropertyChanges() chan *dbus.Signal {
	b.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='/org/bluez'",
	)
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch
}
