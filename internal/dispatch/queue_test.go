// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/rpctable"
)

func newTestRpc(id uint64) *rpctable.Rpc {
	return rpctable.NewServerRpc(id, nil, 80, rpctable.NewMessageIn(10, 10))
}

func TestQueueReadyThenWaitTakesFromReadyList(t *testing.T) {
	q := NewQueue()
	rpc := newTestRpc(1)
	q.Ready(rpc, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := q.Wait(ctx, true, false, 0)
	require.True(t, ok)
	assert.Same(t, rpc, got)
}

func TestQueueWaitThenReadyWakesBlockedWaiter(t *testing.T) {
	q := NewQueue()
	resultCh := make(chan *rpctable.Rpc, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rpc, ok := q.Wait(ctx, false, true, 0)
		if ok {
			resultCh <- rpc
		} else {
			resultCh <- nil
		}
	}()

	// Give the waiter time to register before Ready fires.
	time.Sleep(20 * time.Millisecond)
	rpc := newTestRpc(2)
	q.Ready(rpc, false)

	select {
	case got := <-resultCh:
		assert.Same(t, rpc, got)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestQueueWaitMatchesSpecificID(t *testing.T) {
	q := NewQueue()
	other := newTestRpc(1)
	wanted := newTestRpc(2)
	q.Ready(other, true)
	q.Ready(wanted, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := q.Wait(ctx, true, false, 2)
	require.True(t, ok)
	assert.Same(t, wanted, got)

	requests, _ := q.PendingReady()
	assert.Equal(t, 1, requests, "the non-matching ready RPC should remain queued")
}

func TestQueueWaitTimesOutWithoutMatch(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.Wait(ctx, true, true, 0)
	assert.False(t, ok)
}

func TestQueueCancelRacingReadyStillDelivers(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan struct {
		rpc *rpctable.Rpc
		ok  bool
	}, 1)
	go func() {
		rpc, ok := q.Wait(ctx, true, false, 0)
		resultCh <- struct {
			rpc *rpctable.Rpc
			ok  bool
		}{rpc, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	rpc := newTestRpc(5)
	// Fire Ready and cancel back-to-back to race the two claim paths; the
	// waiter must end up with exactly one outcome, never a hang.
	go q.Ready(rpc, true)
	cancel()

	select {
	case res := <-resultCh:
		if res.ok {
			assert.Same(t, rpc, res.rpc)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved despite the ready/cancel race")
	}
}

func TestQueueDoesNotMatchWrongKind(t *testing.T) {
	q := NewQueue()
	rpc := newTestRpc(1)
	q.Ready(rpc, true) // a request

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.Wait(ctx, false, true, 0) // waiting for a response only
	assert.False(t, ok)
}
