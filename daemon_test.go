package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleConnStatus(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	client, server := net.Pipe()
	defer client.Close()
	go handleConn(server, m)

	require.NoError(t, json.NewEncoder(client).Encode(IPCRequest{Command: "status"}))

	var resp IPCResponse
	require.NoError(t, json.NewDecoder(client).Decode(&resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, 0, resp.Tracked)
}

func TestHandleConnUnknownCommand(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	client, server := net.Pipe()
	defer client.Close()
	go handleConn(server, m)

	require.NoError(t, json.NewEncoder(client).Encode(IPCRequest{Command: "toggle"}))

	var resp IPCResponse
	require.NoError(t, json.NewDecoder(client).Decode(&resp))
	assert.Contains(t, resp.Error, "unknown command")
}

func TestHandleConnInvalidJSON(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	client, server := net.Pipe()
	defer client.Close()
	go handleConn(server, m)

	_, err := client.Write([]byte("]\n"))
	require.NoError(t, err)

	var resp IPCResponse
	require.NoError(t, json.NewDecoder(client).Decode(&resp))
	assert.Contains(t, resp.Error, "invalid request")
}

func TestMonitorRunProcessesSignalsAndStops(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	signals := make(chan *dbus.Signal, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.run(ctx, signals)
		close(done)
	}()

	signals <- &dbus.Signal{
		Path: testDev,
		Name: propsSignal,
		Body: []interface{}{deviceIface, map[string]dbus.Variant{
			"Connected": dbus.MakeVariant(true),
		}, []string{}},
	}

	assert.Eventually(t, func() bool {
		return m.statusResponse().Tracked == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop on context cancellation")
	}
}
