// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package rpctable

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/peertable"
	"github.com/openhoma/homacore/transport"
)

func testPeer(t *testing.T) *peertable.Peer {
	t.Helper()
	tbl := peertable.NewTable(nil, time.Millisecond, 8)
	p, err := tbl.Get(transport.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1}, time.Now())
	require.NoError(t, err)
	return p
}

func TestNewClientRpcState(t *testing.T) {
	rpc := NewClientRpc(1, testPeer(t), 80, AssembleOutbound(make([]byte, 100), 1500, 10000, 65536, 65536))
	assert.Equal(t, StateOutgoing, rpc.State)
	assert.True(t, rpc.IsClient)
	assert.False(t, rpc.OnGrantableList())
	assert.False(t, rpc.OnThrottledList())
}

func TestNewServerRpcState(t *testing.T) {
	rpc := NewServerRpc(2, testPeer(t), 80, NewMessageIn(100, 10000))
	assert.Equal(t, StateIncoming, rpc.State)
	assert.False(t, rpc.IsClient)
}

func TestRpcIsGrantable(t *testing.T) {
	rpc := NewServerRpc(3, testPeer(t), 80, NewMessageIn(50000, 10000))
	assert.True(t, rpc.IsGrantable(), "large message with bytes remaining should be grantable")

	rpc.MsgIn.Insert(0, 10000, nil)
	rpc.MsgIn.SetIncoming(50000)
	rpc.MsgIn.Insert(10000, 40000, nil)
	assert.False(t, rpc.IsGrantable(), "fully received message is not grantable")
}

func TestRpcNotGrantableWhenUnscheduled(t *testing.T) {
	rpc := NewServerRpc(4, testPeer(t), 80, NewMessageIn(100, 10000))
	assert.False(t, rpc.IsGrantable(), "message entirely within unscheduled bytes needs no grants")
}

func TestKeyBucketDistribution(t *testing.T) {
	k := Key{ID: 2049, IsClient: true}
	assert.Equal(t, 1, k.Bucket(1024))

	k2 := Key{ID: 5, IsClient: false}
	assert.Equal(t, 5, k2.Bucket(1024))
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "ErrTimeout", ErrTimeout.String())
	assert.Equal(t, "NoError", NoError.String())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "Ready", StateReady.String())
	assert.Equal(t, "Dead", StateDead.String())
}
