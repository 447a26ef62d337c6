// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package homa

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/homatime"
	"github.com/openhoma/homacore/internal/hometest"
	"github.com/openhoma/homacore/internal/persist"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/transport"
)

func testConfig() config.Config {
	c := config.DefaultConfig()
	c.RTTBytes = 5000
	c.GrantIncrement = 5000
	c.TickPeriod = time.Millisecond
	c.ResendTicks = 200
	c.AbortResends = 3
	c.LinkMbps = 10000
	return c
}

type harness struct {
	net          *hometest.MemNetwork
	serverGlobal *Global
	clientGlobal *Global
	serverSocket *Socket
	clientSocket *Socket
	serverAddr   Addr
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	mem := hometest.NewMemNetwork()

	serverEp := transport.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 9000}
	clientEp := transport.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 9000}
	serverTP := mem.NewHost(serverEp, 64)
	clientTP := mem.NewHost(clientEp, 64)

	serverGlobal, err := New(cfg, homatime.NewRealClock(), serverTP, nil, persist.NewMemoryAllocator(1000))
	require.NoError(t, err)
	clientGlobal, err := New(cfg, homatime.NewRealClock(), clientTP, nil, persist.NewMemoryAllocator(2000))
	require.NoError(t, err)

	serverGlobal.Run()
	clientGlobal.Run()
	t.Cleanup(func() {
		serverGlobal.Close()
		clientGlobal.Close()
	})

	serverSocket, err := serverGlobal.Open()
	require.NoError(t, err)
	clientSocket, err := clientGlobal.Open()
	require.NoError(t, err)

	return &harness{
		net:          mem,
		serverGlobal: serverGlobal,
		clientGlobal: clientGlobal,
		serverSocket: serverSocket,
		clientSocket: clientSocket,
		serverAddr:   Addr{Endpoint: serverEp, Port: serverSocket.LocalPort()},
	}
}

func TestSmallRequestResponseRoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		payload, id, _, err := h.serverSocket.Recv(ctx, RecvFlags{Request: true}, 0)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "hello", string(payload))
		assert.NoError(t, h.serverSocket.Reply(id, []byte("echo:hello")))
	}()

	id, err := h.clientSocket.SendRequest(h.serverAddr, []byte("hello"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, respID, _, err := h.clientSocket.Recv(ctx, RecvFlags{Response: true}, id)
	require.NoError(t, err)
	assert.Equal(t, id, respID)
	assert.Equal(t, "echo:hello", string(resp))

	<-done
}

func TestScheduledMessageRoundTrip(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	reqPayload := make([]byte, 40000)
	for i := range reqPayload {
		reqPayload[i] = byte(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		payload, id, _, err := h.serverSocket.Recv(ctx, RecvFlags{Request: true}, 0)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, reqPayload, payload)
		assert.NoError(t, h.serverSocket.Reply(id, []byte("ack")))
	}()

	id, err := h.clientSocket.SendRequest(h.serverAddr, reqPayload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, _, _, err := h.clientSocket.Recv(ctx, RecvFlags{Response: true}, id)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(resp))

	<-done
}

func TestAbortSurfacesErrorToBlockedRecv(t *testing.T) {
	h := newHarness(t, testConfig())

	id, err := h.clientSocket.SendRequest(h.serverAddr, []byte("never answered"))
	require.NoError(t, err)

	// Drain the request on the server side so it doesn't itself trigger a
	// RESTART; the client is aborted before any reply ever arrives.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.serverSocket.Recv(ctx, RecvFlags{Request: true}, 0)
	}()

	n := h.clientSocket.Abort(h.serverAddr.Endpoint, rpctable.ErrAborted)
	assert.Equal(t, 1, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, _, err = h.clientSocket.Recv(ctx, RecvFlags{Response: true}, id)
	require.Error(t, err)
}

func TestNonBlockingRecvReturnsWouldBlock(t *testing.T) {
	h := newHarness(t, testConfig())
	_, _, _, err := h.clientSocket.Recv(context.Background(), RecvFlags{Response: true, NonBlocking: true}, 0)
	assert.Equal(t, ErrWouldBlock, err)
}

// TestRoundTripSurvivesPacketLoss drops a third of the client's outbound
// packets, forcing at least one DATA or GRANT to go missing and the
// recovery timer's RESEND path to fill the gap (spec §8's RESEND-on-loss
// scenario), and checks the RPC still completes end to end.
func TestRoundTripSurvivesPacketLoss(t *testing.T) {
	cfg := testConfig()
	mem := hometest.NewMemNetwork()

	serverEp := transport.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 9000}
	clientEp := transport.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 9000}
	serverTP := mem.NewHost(serverEp, 64)
	clientTP := hometest.NewDropper(mem.NewHost(clientEp, 64), 1, 0.3)

	serverGlobal, err := New(cfg, homatime.NewRealClock(), serverTP, nil, persist.NewMemoryAllocator(1000))
	require.NoError(t, err)
	clientGlobal, err := New(cfg, homatime.NewRealClock(), clientTP, nil, persist.NewMemoryAllocator(2000))
	require.NoError(t, err)

	serverGlobal.Run()
	clientGlobal.Run()
	t.Cleanup(func() {
		serverGlobal.Close()
		clientGlobal.Close()
	})

	serverSocket, err := serverGlobal.Open()
	require.NoError(t, err)
	clientSocket, err := clientGlobal.Open()
	require.NoError(t, err)
	serverAddr := Addr{Endpoint: serverEp, Port: serverSocket.LocalPort()}

	reqPayload := make([]byte, 40000)
	for i := range reqPayload {
		reqPayload[i] = byte(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		payload, id, _, err := serverSocket.Recv(ctx, RecvFlags{Request: true}, 0)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, reqPayload, payload)
		assert.NoError(t, serverSocket.Reply(id, []byte("ack")))
	}()

	id, err := clientSocket.SendRequest(serverAddr, reqPayload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, _, _, err := clientSocket.Recv(ctx, RecvFlags{Response: true}, id)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(resp))

	<-done
	assert.Greater(t, clientTP.Dropped, 0, "test is void if the injector never actually dropped anything")
}
