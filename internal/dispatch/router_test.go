// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/peertable"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/pkg/wire"
	"github.com/openhoma/homacore/transport"
)

func testPeer(t *testing.T) *peertable.Peer {
	t.Helper()
	tbl := peertable.NewTable(nil, time.Millisecond, 8)
	p, err := tbl.Get(transport.Endpoint{IP: net.ParseIP("10.0.0.5"), Port: 1}, time.Now())
	require.NoError(t, err)
	return p
}

func TestRouteDataCreatesNewServerRpc(t *testing.T) {
	table := rpctable.NewTable(0)
	peer := testPeer(t)
	d := &wire.Data{
		Header:        wire.Header{SourcePort: 40000, ID: 99},
		MessageLength: 5000,
		Incoming:      1000,
	}

	rpc, isNew, err := RouteData(table, peer, d, false)
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NotNil(t, rpc)
	assert.Equal(t, uint64(99), rpc.ID)
	assert.Equal(t, uint32(5000), rpc.MsgIn.TotalLength())

	rpc2, isNew2, err := RouteData(table, peer, d, false)
	require.NoError(t, err)
	assert.False(t, isNew2)
	assert.Same(t, rpc, rpc2)
}

func TestRouteDataUnknownClientRpcIsDiscarded(t *testing.T) {
	table := rpctable.NewTable(0)
	peer := testPeer(t)
	d := &wire.Data{Header: wire.Header{ID: 7}}

	rpc, isNew, err := RouteData(table, peer, d, true)
	assert.Nil(t, rpc)
	assert.False(t, isNew)
	assert.ErrorIs(t, err, ErrUnknownClientRpc)
}

func TestRouteResendUnknownServerRpcNeedsRestart(t *testing.T) {
	table := rpctable.NewTable(0)
	rpc, needsRestart := RouteResend(table, 55, false)
	assert.Nil(t, rpc)
	assert.True(t, needsRestart)
}

func TestRouteResendUnknownClientRpcJustDropped(t *testing.T) {
	table := rpctable.NewTable(0)
	rpc, needsRestart := RouteResend(table, 55, true)
	assert.Nil(t, rpc)
	assert.False(t, needsRestart, "an unknown client RPC has already been reaped; nothing to restart")
}

func TestRouteResendFindsExistingRpc(t *testing.T) {
	table := rpctable.NewTable(0)
	peer := testPeer(t)
	existing := rpctable.NewServerRpc(10, peer, 80, rpctable.NewMessageIn(100, 50))
	table.Insert(existing)

	rpc, needsRestart := RouteResend(table, 10, false)
	assert.False(t, needsRestart)
	assert.Same(t, existing, rpc)
}
