// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package dispatch implements per-socket inbound demultiplexing (spec
// §4.9): routing an arriving packet to its RPC (creating a new server RPC
// on first contact), and the ready-request/ready-response handoff between
// whichever goroutine is blocked in Recv and whichever goroutine just
// finished receiving a message.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openhoma/homacore/internal/rpctable"
)

// waiter is one blocked Recv call. The kernel source publishes the
// matched RPC's id last, after every other field, so a concurrent
// deletion racing the wakeup can tell "already claimed" from "still
// pending" without a lock; the atomic claimed flag here is the Go
// translation of that single-assignment protocol.
type waiter struct {
	wantRequest  bool
	wantResponse bool
	wantID       uint64 // 0 = any RPC of the requested kind

	resultCh chan *rpctable.Rpc // buffered 1
	claimed  int32              // atomic: CAS 0->1 to claim delivery rights
}

func (w *waiter) matches(rpc *rpctable.Rpc, isRequest bool) bool {
	if isRequest && !w.wantRequest {
		return false
	}
	if !isRequest && !w.wantResponse {
		return false
	}
	if w.wantID != 0 && w.wantID != rpc.ID {
		return false
	}
	return true
}

// Queue holds one socket's ready lists and blocked receivers.
type Queue struct {
	mu             sync.Mutex
	readyRequests  []*rpctable.Rpc
	readyResponses []*rpctable.Rpc
	waiters        []*waiter
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Ready is called once an RPC has become deliverable to the application
// (a request fully received, or a response fully received). It either
// hands the RPC straight to a matching blocked Recv, or appends it to the
// appropriate ready list for a future Recv to pick up.
func (q *Queue) Ready(rpc *rpctable.Rpc, isRequest bool) {
	q.mu.Lock()

	for i, w := range q.waiters {
		if !w.matches(rpc, isRequest) {
			continue
		}
		if !atomic.CompareAndSwapInt32(&w.claimed, 0, 1) {
			continue // Wait's context already fired and claimed it first
		}
		q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
		q.mu.Unlock()
		w.resultCh <- rpc
		return
	}

	if isRequest {
		q.readyRequests = append(q.readyRequests, rpc)
	} else {
		q.readyResponses = append(q.readyResponses, rpc)
	}
	q.mu.Unlock()
}

// Wait blocks until an RPC matching (wantRequest, wantResponse, wantID) is
// available, or ctx is done. wantID == 0 matches any RPC of the requested
// kind(s).
func (q *Queue) Wait(ctx context.Context, wantRequest, wantResponse bool, wantID uint64) (*rpctable.Rpc, bool) {
	q.mu.Lock()
	if rpc, ok := q.takeReadyLocked(wantRequest, wantResponse, wantID); ok {
		q.mu.Unlock()
		return rpc, true
	}

	w := &waiter{
		wantRequest:  wantRequest,
		wantResponse: wantResponse,
		wantID:       wantID,
		resultCh:     make(chan *rpctable.Rpc, 1),
	}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case rpc := <-w.resultCh:
		return rpc, true
	case <-ctx.Done():
		if atomic.CompareAndSwapInt32(&w.claimed, 0, 1) {
			q.removeWaiter(w)
			return nil, false
		}
		// Ready() already claimed this waiter and is about to (or just
		// did) send; the value is guaranteed to arrive.
		return <-w.resultCh, true
	}
}

func (q *Queue) takeReadyLocked(wantRequest, wantResponse bool, wantID uint64) (*rpctable.Rpc, bool) {
	if wantRequest {
		if rpc, ok := takeMatch(&q.readyRequests, wantID); ok {
			return rpc, true
		}
	}
	if wantResponse {
		if rpc, ok := takeMatch(&q.readyResponses, wantID); ok {
			return rpc, true
		}
	}
	return nil, false
}

func takeMatch(list *[]*rpctable.Rpc, wantID uint64) (*rpctable.Rpc, bool) {
	for i, rpc := range *list {
		if wantID != 0 && rpc.ID != wantID {
			continue
		}
		*list = append((*list)[:i], (*list)[i+1:]...)
		return rpc, true
	}
	return nil, false
}

func (q *Queue) removeWaiter(target *waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// PendingReady reports how many RPCs are sitting on the ready lists,
// for diagnostics and tests.
func (q *Queue) PendingReady() (requests, responses int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.readyRequests), len(q.readyResponses)
}
