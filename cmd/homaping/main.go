// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// homaping sends one request to a homaserver-style socket and prints the
// round-trip latency, the way cmd/loadblb exercises a running cluster from
// the outside rather than embedding it.
package main

import (
	"context"
	"flag"
	"net"
	"strconv"
	"time"

	log "github.com/golang/glog"

	homa "github.com/openhoma/homacore"
	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/homatime"
	"github.com/openhoma/homacore/internal/persist"
	"github.com/openhoma/homacore/transport"
)

var (
	target  = flag.String("target", "", "host:port of the remote transport")
	port    = flag.Int("port", 0, "Homa port on the remote socket")
	size    = flag.Int("size", 100, "request payload size in bytes")
	count   = flag.Int("count", 1, "number of requests to send")
	timeout = flag.Duration("timeout", 5*time.Second, "per-request timeout")
)

func main() {
	flag.Parse()
	if *target == "" || *port == 0 {
		log.Fatalf("-target and -port are required")
	}

	host, portStr, err := net.SplitHostPort(*target)
	if err != nil {
		log.Fatalf("invalid -target %q: %v", *target, err)
	}
	tp, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("invalid -target port %q: %v", portStr, err)
	}
	dst := homa.Addr{
		Endpoint: transport.Endpoint{IP: net.ParseIP(host), Port: tp},
		Port:     *port,
	}

	cfg := config.DefaultConfig()
	conn, err := transport.NewUDPTransport(":0", cfg.NumPriorities)
	if err != nil {
		log.Fatalf("couldn't open transport: %v", err)
	}

	global, err := homa.New(cfg, homatime.NewRealClock(), conn, nil, persist.NewMemoryAllocator(40000))
	if err != nil {
		log.Fatalf("couldn't create homa transport: %v", err)
	}
	global.Run()
	defer global.Close()

	socket, err := global.Open()
	if err != nil {
		log.Fatalf("couldn't open homa socket: %v", err)
	}
	defer socket.Shutdown()

	payload := make([]byte, *size)
	for i := 0; i < *count; i++ {
		start := time.Now()
		id, err := socket.SendRequest(dst, payload)
		if err != nil {
			log.Errorf("request %d failed: %v", i, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		_, _, _, err = socket.Recv(ctx, homa.RecvFlags{Response: true}, id)
		cancel()
		if err != nil {
			log.Errorf("response %d failed: %v", i, err)
			continue
		}
		log.Infof("rpc %d: %s", id, time.Since(start))
	}
}
