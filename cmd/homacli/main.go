// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// homacli is an interactive tool for poking at a running Homa socket, the
// way cmd/blbcli lets an operator interact with a running Blb cluster.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/golang/glog"
)

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()

	cli := newHomaCli()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cli.stop()
		os.Exit(1)
	}()

	if err := cli.run(os.Args); err != nil {
		log.Errorf("error: %v", err)
	}
	cli.stop()
}
