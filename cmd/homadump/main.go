// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// homadump prints the diagnostic snapshot a homaserver process writes when
// it receives a FREEZE, and optionally the process's live Prometheus
// metrics, standing in for the ring-buffer dump the kernel source produces
// on the same request.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	log "github.com/golang/glog"
	"github.com/golang/snappy"

	"github.com/openhoma/homacore/internal/freezefb"
)

var (
	dumpFile   = flag.String("file", "", "path to a freeze dump written by homaserver")
	metricsURL = flag.String("metricsURL", "", "http(s) URL of a running server's /metrics endpoint")
)

func main() {
	flag.Parse()

	if *dumpFile == "" && *metricsURL == "" {
		log.Fatalf("at least one of -file or -metricsURL is required")
	}

	if *dumpFile != "" {
		if err := printDump(*dumpFile); err != nil {
			log.Fatalf("couldn't read dump %s: %v", *dumpFile, err)
		}
	}

	if *metricsURL != "" {
		if err := printMetrics(*metricsURL); err != nil {
			log.Fatalf("couldn't fetch metrics from %s: %v", *metricsURL, err)
		}
	}
}

// printDump reads a snappy-compressed FlatBuffers dump and walks its RPC
// vector straight out of the decompressed buffer, per freezefb's ToStruct
// guidance: this is read-only reporting, so there's no reason to unpack
// the whole tree into structs first.
func printDump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf, err := ioutil.ReadAll(snappy.NewReader(f))
	if err != nil {
		return err
	}
	snap := freezefb.GetRootAsSocketSnapshotF(buf, 0)

	fmt.Printf("socket port=%d captured=%s dead=%d throttled=%d grantable=%d\n",
		snap.LocalPort(), time.Unix(0, snap.TimestampNanos()).Format("2006-01-02T15:04:05.000"),
		snap.DeadRpcs(), snap.ThrottledLen(), snap.GrantableLen())

	var rpc freezefb.RpcSnapshotF
	for i := 0; i < snap.RpcsLength(); i++ {
		if !snap.Rpcs(&rpc, i) {
			continue
		}
		fmt.Printf("  rpc=%d client=%v state=%-9s peer=%-21s remaining_in=%d remaining_out=%d\n",
			rpc.Id(), rpc.IsClient(), rpc.State(), rpc.Peer(), rpc.BytesRemainingIn(), rpc.BytesRemainingOut())
	}
	return nil
}

func printMetrics(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Print(string(body))
	return nil
}
