// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package hometest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/transport"
)

func ep(port int) transport.Endpoint {
	return transport.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestMemNetworkDeliversPacket(t *testing.T) {
	n := NewMemNetwork()
	a := n.NewHost(ep(1), 8)
	b := n.NewHost(ep(2), 8)

	require.NoError(t, a.Send(ep(2), 0, []byte("hi")))
	in, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(in.Payload))
	assert.Equal(t, ep(1), in.From)
	assert.Equal(t, 1, a.Stats().Delivered)
}

func TestMemNetworkRejectsWhenFull(t *testing.T) {
	n := NewMemNetwork()
	a := n.NewHost(ep(1), 1)
	b := n.NewHost(ep(2), 1)
	require.NoError(t, a.Send(ep(2), 0, []byte("1")))
	require.NoError(t, a.Send(ep(2), 0, []byte("2")))
	assert.Equal(t, 1, a.Stats().Rejected)
	_, _ = b.Recv()
}

func TestDropperDropsAll(t *testing.T) {
	n := NewMemNetwork()
	aLower := n.NewHost(ep(1), 8)
	b := n.NewHost(ep(2), 8)
	a := NewDropper(aLower, 0, 1.0)

	require.NoError(t, a.Send(ep(2), 0, []byte("x")))
	select {
	case <-func() chan struct{} {
		ch := make(chan struct{})
		go func() { b.Recv(); close(ch) }()
		return ch
	}():
		t.Fatal("packet should have been dropped")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, a.Sent)
	assert.Equal(t, 1, a.Dropped)
}

func TestDuplicatorCanDuplicate(t *testing.T) {
	n := NewMemNetwork()
	aLower := n.NewHost(ep(1), 8)
	b := n.NewHost(ep(2), 8)
	a := NewDuplicator(aLower, 4, 1.0, 1)

	require.NoError(t, a.Send(ep(2), 0, []byte("x")))
	first, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "x", string(first.Payload))
	second, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "x", string(second.Payload))
}

func TestReordererDelaysSomePackets(t *testing.T) {
	n := NewMemNetwork()
	aLower := n.NewHost(ep(1), 8)
	b := n.NewHost(ep(2), 8)
	a := NewReorderer(aLower, 1.0, 30*time.Millisecond, 2)

	require.NoError(t, a.Send(ep(2), 0, []byte("delayed")))
	start := time.Now()
	in, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "delayed", string(in.Payload))
	assert.True(t, time.Since(start) > 0)
	require.NoError(t, a.Close())
}
