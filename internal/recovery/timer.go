// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package recovery implements the fixed-tick-rate loss/timeout timer
// described in spec §4.8: RESEND emission on silence, RPC abort after too
// many unanswered RESENDs, RESTART re-linearization, and BUSY handling.
package recovery

import (
	"time"

	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/rpctable"
)

// Action describes what the caller should do as a result of a Tick.
type Action int

// Possible outcomes of a single timer tick against one RPC.
const (
	ActionNone Action = iota
	ActionResend
	ActionAbort
)

// Decision is the result of ticking one RPC. Callers must hold that RPC's
// bucket lock for the whole Tick call, matching the kernel source's
// per-RPC timer walk under the bucket lock.
type Decision struct {
	Action Action

	// Valid when Action == ActionResend.
	ResendStart, ResendEnd uint32
}

// Tick advances one RPC's silent-tick counter and decides whether a
// RESEND is due or the RPC should be aborted. It must be called once per
// TickPeriod for every live RPC that is currently waiting on the network
// (spec §4.8): a client RPC with no response yet, or a server RPC with an
// incomplete request.
func Tick(cfg config.Config, rpc *rpctable.Rpc, now time.Time) Decision {
	rpc.SilentTicks++
	if rpc.SilentTicks < cfg.ResendTicks {
		return Decision{Action: ActionNone}
	}

	if rpc.NumResends >= cfg.AbortResends {
		abortRpc(rpc)
		return Decision{Action: ActionAbort}
	}

	if !rpc.Peer.AllowResend(now) {
		// Another RPC to the same peer already triggered a RESEND this
		// interval; spec §4.8 rate-limits RESENDs per peer, not per RPC.
		return Decision{Action: ActionNone}
	}

	start, end, ok := resendRangeFor(rpc)
	if !ok {
		return Decision{Action: ActionNone}
	}

	rpc.NumResends++
	rpc.SilentTicks = 0
	return Decision{Action: ActionResend, ResendStart: start, ResendEnd: end}
}

// abortRpc applies spec §4.8's terminal outcome once NumResends has
// reached AbortResends: a client-issued RPC surfaces ErrTimeout to the application; a
// server-issued RPC that never completed is simply discarded, since no
// application code is waiting to be told about it.
func abortRpc(rpc *rpctable.Rpc) {
	if rpc.IsClient {
		rpc.Error = rpctable.ErrTimeout
		rpc.State = rpctable.StateReady
		return
	}
	rpc.State = rpctable.StateDead
}

func resendRangeFor(rpc *rpctable.Rpc) (start, end uint32, ok bool) {
	if rpc.MsgIn == nil {
		return 0, 0, false
	}
	return rpc.MsgIn.ResendRange()
}

// OnPacketReceived resets silent_ticks: any packet at all from the peer
// for this RPC, not just data, is evidence of life (spec §4.8).
func OnPacketReceived(rpc *rpctable.Rpc) {
	rpc.SilentTicks = 0
}

// OnBusy handles an inbound BUSY packet: the peer is alive but not ready
// to answer yet, so back off the silent-tick clock without touching
// num_resends.
func OnBusy(rpc *rpctable.Rpc) {
	rpc.SilentTicks = 0
}
