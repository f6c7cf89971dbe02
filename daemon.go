package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
)

var (
	infoLog = log.New(os.Stdout, "", log.LstdFlags)
	errLog  = log.New(os.Stderr, "", log.LstdFlags)
)

func handleConn(conn net.Conn, mon *monitor) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(IPCResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if req.Command != "status" {
		json.NewEncoder(conn).Encode(IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)})
		return
	}
	json.NewEncoder(conn).Encode(mon.statusResponse())
}

func runDaemon(cfg *Config) error {
	bz, err := newBluez()
	if err != nil {
		return err
	}
	defer bz.close()

	mon := newMonitor(bz, newScheduler(), cfg)
	dbusSignals := bz.subscribePropertyChanges()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := cfg.Socket
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	defer os.Remove(sock)
	defer ln.Close()

	// Status socket.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				// Listener closed by shutdown goroutine.
				return
			}
			go handleConn(conn, mon)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		infoLog.Println("shutting down")
		cancel()
		ln.Close()
	}()

	infoLog.Printf("watching %s devices, debounce window %s", busName, cfg.window)
	mon.run(ctx, dbusSignals)
	return nil
}
