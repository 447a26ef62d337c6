// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/codegangsta/cli"
	"github.com/peterh/liner"

	log "github.com/golang/glog"

	homa "github.com/openhoma/homacore"
	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/homatime"
	"github.com/openhoma/homacore/internal/persist"
	"github.com/openhoma/homacore/transport"
)

var usage = `
	homacli is a tool to interact with a running Homa socket. You can issue a
	single command:

		homacli --target <host:port> --port <homaport> send [--size N]

	or start an interactive shell:

		homacli --target <host:port> --port <homaport> shell
`

// homaCli lets an operator send requests to a remote Homa socket and
// inspect the responses, reusing one local socket across commands.
type homaCli struct {
	app    *cli.App
	global *homa.Global
	socket *homa.Socket
}

func newHomaCli() *homaCli {
	h := &homaCli{}
	app := cli.NewApp()
	app.Name = "homacli"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "target, t",
			Usage: "host:port of the remote transport",
		},
		cli.IntFlag{
			Name:  "port, p",
			Usage: "Homa port on the remote socket",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "send",
			Usage: "Sends one request and waits for the response.",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "size", Value: 100, Usage: "request payload size in bytes"},
			},
			Action: h.cmdSend,
		},
		{
			Name:   "shell",
			Usage:  "Starts an interactive shell.",
			Action: h.cmdShell,
		},
	}
	h.app = app
	return h
}

func (h *homaCli) run(args []string) error {
	return h.app.Run(args)
}

func (h *homaCli) stop() {
	if h.socket != nil {
		h.socket.Shutdown()
	}
	if h.global != nil {
		h.global.Close()
	}
}

// dest parses the --target/--port pair shared by every subcommand.
func (h *homaCli) dest(c *cli.Context) (homa.Addr, error) {
	target := c.GlobalString("target")
	port := c.GlobalInt("port")
	if target == "" || port == 0 {
		return homa.Addr{}, fmt.Errorf("--target and --port are required")
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return homa.Addr{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	tp, err := strconv.Atoi(portStr)
	if err != nil {
		return homa.Addr{}, fmt.Errorf("invalid target port %q: %w", portStr, err)
	}
	return homa.Addr{Endpoint: transport.Endpoint{IP: net.ParseIP(host), Port: tp}, Port: port}, nil
}

// socketFor lazily opens the one local socket this session uses to talk to
// every destination, the way blbCli.getClient reuses one *blb.Client.
func (h *homaCli) socketFor() (*homa.Socket, error) {
	if h.socket != nil {
		return h.socket, nil
	}
	cfg := config.DefaultConfig()
	tp, err := transport.NewUDPTransport(":0", cfg.NumPriorities)
	if err != nil {
		return nil, err
	}
	global, err := homa.New(cfg, homatime.NewRealClock(), tp, nil, persist.NewMemoryAllocator(50000))
	if err != nil {
		return nil, err
	}
	global.Run()
	socket, err := global.Open()
	if err != nil {
		global.Close()
		return nil, err
	}
	h.global = global
	h.socket = socket
	return socket, nil
}

func (h *homaCli) cmdSend(c *cli.Context) error {
	dst, err := h.dest(c)
	if err != nil {
		return err
	}
	socket, err := h.socketFor()
	if err != nil {
		return err
	}

	payload := make([]byte, c.Int("size"))
	start := time.Now()
	id, err := socket.SendRequest(dst, payload)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, _, _, err := socket.Recv(ctx, homa.RecvFlags{Response: true}, id)
	if err != nil {
		return fmt.Errorf("recv failed: %w", err)
	}
	log.Infof("rpc %d: %d bytes in %s", id, len(resp), time.Since(start))
	return nil
}

func (h *homaCli) cmdShell(c *cli.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	line.SetCompleter(func(prefix string) (out []string) {
		for _, cmd := range h.app.Commands {
			if strings.HasPrefix(cmd.Name, prefix) {
				out = append(out, cmd.Name)
			}
		}
		return
	})

	target := c.GlobalString("target")
	port := c.GlobalInt("port")
	for {
		input, err := line.Prompt(fmt.Sprintf("(homa %s/%d) ", target, port))
		if err != nil {
			return nil
		}
		args := strings.Fields(input)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}

		full := append([]string{"homacli", "--target", target, "--port", strconv.Itoa(port)}, args...)
		if err := h.app.Run(full); err != nil {
			log.Errorf("error: %v", err)
			continue
		}
		line.AppendHistory(input)
	}
}
