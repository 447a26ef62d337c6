// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// homaserver runs a Homa socket that echoes every request it receives back
// to its sender, for exercising a transport end to end without a real
// application on the other side (in the spirit of cmd/testblb and
// cmd/watchblb: a small purpose-built tool, not production service code).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	homa "github.com/openhoma/homacore"
	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/homatime"
	"github.com/openhoma/homacore/internal/persist"
	"github.com/openhoma/homacore/transport"
)

/*

Configuring various parameters follows the same three steps as the rest of
this tree's servers:

  (1) Default config parameters come from config.DefaultConfig.

  (2) An optional configuration file (in json format) can be specified via
      -homaCfg to override the default values.

  (3) Individual flags can be used to override each parameter set in the
      previous two steps, e.g. -numPriorities=4.

*/

var (
	cfg = config.DefaultConfig()

	cfgFile = flag.String("homaCfg", "", "configuration file for the transport")

	addr          = flag.String("addr", ":0", "UDP address to listen on")
	metricsAddr   = flag.String("metricsAddr", ":9110", "address to serve Prometheus metrics on")
	portLedger    = flag.String("portLedger", "", "path to a bolt-backed port ledger; empty uses an in-memory allocator")
	startPort     = flag.Int("startPort", 32768, "first Homa port handed out by the allocator")
	freezeDumpDir = flag.String("freezeDumpDir", "", "directory to write FREEZE-triggered diagnostic snapshots to; empty disables dumping")
	numPriorities = flag.Int("numPriorities", 0, "number of transport priority levels")
	linkMbps      = flag.Int("linkMbps", 0, "link speed in Mbps, used by the NIC-queue estimator")
)

func init() {
	flag.Parse()

	if *cfgFile != "" {
		f, err := os.Open(*cfgFile)
		if err != nil {
			log.Fatalf("couldn't open the provided config file: %s", err)
		}
		dec := json.NewDecoder(f)
		if err := dec.Decode(&cfg); err != nil {
			log.Fatalf("failed to decode the config file: %s", err)
		}
	}

	if *numPriorities != 0 {
		cfg.NumPriorities = *numPriorities
	}
	if *linkMbps != 0 {
		cfg.LinkMbps = *linkMbps
	}
}

func main() {
	if err := cfg.Validate(); err != nil {
		log.Fatalf("failed to validate configuration: %v", err)
	}

	tp, err := transport.NewUDPTransport(*addr, cfg.NumPriorities)
	if err != nil {
		log.Fatalf("couldn't open transport on %s: %v", *addr, err)
	}

	var portAlloc persist.PortAllocator
	if *portLedger != "" {
		ledger, err := persist.Open(*portLedger)
		if err != nil {
			log.Fatalf("couldn't open port ledger %s: %v", *portLedger, err)
		}
		portAlloc, err = persist.NewDurableAllocator(ledger, *startPort)
		if err != nil {
			log.Fatalf("couldn't create durable port allocator: %v", err)
		}
	} else {
		portAlloc = persist.NewMemoryAllocator(*startPort)
	}

	global, err := homa.New(cfg, homatime.NewRealClock(), tp, nil, portAlloc)
	if err != nil {
		log.Fatalf("couldn't create homa transport: %v", err)
	}
	global.SetFreezeDumpDir(*freezeDumpDir)
	global.Run()

	socket, err := global.Open()
	if err != nil {
		log.Fatalf("couldn't open homa socket: %v", err)
	}
	log.Infof("homaserver listening on %s, homa port %d", tp.LocalAddr(), socket.LocalPort())

	go serveMetrics(*metricsAddr)
	go echoLoop(socket)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Infof("shutting down...")
	socket.Shutdown()
	if err := global.Close(); err != nil {
		log.Errorf("error closing homa transport: %v", err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server exited: %v", err)
	}
}

// echoLoop receives every request delivered to socket and replies with the
// same payload it was sent.
func echoLoop(socket *homa.Socket) {
	for {
		payload, id, from, err := socket.Recv(context.Background(), homa.RecvFlags{Request: true}, 0)
		if err != nil {
			if err == homa.ErrSocketClosed {
				return
			}
			log.Errorf("recv error from %s: %v", from, err)
			continue
		}
		if err := socket.Reply(id, payload); err != nil {
			log.Errorf("reply to rpc %d from %s failed: %v", id, from, err)
		}
	}
}
