// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package recovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/peertable"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/transport"
)

func testPeer(t *testing.T, resendInterval time.Duration) *peertable.Peer {
	t.Helper()
	tbl := peertable.NewTable(nil, resendInterval, 8)
	p, err := tbl.Get(transport.Endpoint{IP: net.ParseIP("10.0.0.4"), Port: 1}, time.Now())
	require.NoError(t, err)
	return p
}

func TestTickDoesNothingBeforeResendTicks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ResendTicks = 5
	rpc := rpctable.NewServerRpc(1, testPeer(t, time.Millisecond), 80, rpctable.NewMessageIn(1000, 100))

	now := time.Now()
	for i := 0; i < 4; i++ {
		d := Tick(cfg, rpc, now)
		assert.Equal(t, ActionNone, d.Action)
	}
	assert.Equal(t, 4, rpc.SilentTicks)
}

func TestTickEmitsResendAfterThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ResendTicks = 2
	rpc := rpctable.NewServerRpc(1, testPeer(t, time.Millisecond), 80, rpctable.NewMessageIn(1000, 100))

	now := time.Now()
	Tick(cfg, rpc, now)
	d := Tick(cfg, rpc, now)

	require.Equal(t, ActionResend, d.Action)
	assert.Equal(t, uint32(0), d.ResendStart)
	assert.Equal(t, uint32(100), d.ResendEnd)
	assert.Equal(t, 0, rpc.SilentTicks, "a sent resend resets the silent-tick counter")
	assert.Equal(t, 1, rpc.NumResends)
}

func TestTickRateLimitsResendsPerPeer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ResendTicks = 1
	peer := testPeer(t, time.Hour) // effectively one resend ever, for this test
	rpcA := rpctable.NewServerRpc(1, peer, 80, rpctable.NewMessageIn(1000, 100))
	rpcB := rpctable.NewServerRpc(2, peer, 80, rpctable.NewMessageIn(1000, 100))

	now := time.Now()
	dA := Tick(cfg, rpcA, now)
	require.Equal(t, ActionResend, dA.Action)

	dB := Tick(cfg, rpcB, now)
	assert.Equal(t, ActionNone, dB.Action, "second RPC to the same peer should be rate-limited")
}

func TestTickAbortsClientAfterAbortResends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ResendTicks = 1
	cfg.AbortResends = 2
	peer := testPeer(t, time.Millisecond)
	rpc := rpctable.NewClientRpc(1, peer, 80, rpctable.AssembleOutbound(make([]byte, 10), 1500, 10000, 65536, 65536))
	rpc.MsgIn = rpctable.NewMessageIn(1000, 100) // response arriving

	now := time.Now()
	Tick(cfg, rpc, now) // resend 1
	now = now.Add(time.Millisecond)
	Tick(cfg, rpc, now) // resend 2
	now = now.Add(time.Millisecond)
	d := Tick(cfg, rpc, now)

	require.Equal(t, ActionAbort, d.Action)
	assert.Equal(t, rpctable.ErrTimeout, rpc.Error)
	assert.Equal(t, rpctable.StateReady, rpc.State)
}

func TestTickAbortsServerSilently(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ResendTicks = 1
	cfg.AbortResends = 1
	peer := testPeer(t, time.Millisecond)
	rpc := rpctable.NewServerRpc(1, peer, 80, rpctable.NewMessageIn(1000, 100))

	now := time.Now()
	d := Tick(cfg, rpc, now) // uses up the one allowed resend
	require.Equal(t, ActionResend, d.Action)

	now = now.Add(time.Millisecond)
	d = Tick(cfg, rpc, now)
	require.Equal(t, ActionAbort, d.Action)
	assert.Equal(t, rpctable.StateDead, rpc.State)
	assert.Equal(t, rpctable.NoError, rpc.Error, "server-side timeout has no application-visible error")
}

func TestOnPacketReceivedResetsSilentTicks(t *testing.T) {
	rpc := rpctable.NewServerRpc(1, testPeer(t, time.Millisecond), 80, rpctable.NewMessageIn(1000, 100))
	rpc.SilentTicks = 3
	OnPacketReceived(rpc)
	assert.Equal(t, 0, rpc.SilentTicks)
}

func TestOnBusyResetsSilentTicksWithoutCountingResend(t *testing.T) {
	rpc := rpctable.NewServerRpc(1, testPeer(t, time.Millisecond), 80, rpctable.NewMessageIn(1000, 100))
	rpc.SilentTicks = 3
	rpc.NumResends = 1
	OnBusy(rpc)
	assert.Equal(t, 0, rpc.SilentTicks)
	assert.Equal(t, 1, rpc.NumResends)
}
