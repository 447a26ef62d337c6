// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"errors"

	"github.com/openhoma/homacore/internal/peertable"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/pkg/wire"
)

// ErrUnknownClientRpc is returned when a packet claims to be addressed to
// a client-issued RPC this socket has no record of (already reaped, or
// never existed) — the packet is simply discarded (spec §4.9).
var ErrUnknownClientRpc = errors.New("dispatch: no such client rpc")

// RouteData looks up (or, for a server-bound RPC, creates) the RPC that
// owns an inbound DATA packet. Caller must not already hold the owning
// bucket's lock; RouteData acquires and releases it internally, and
// returns with the RPC unlocked.
//
// isClient is the receiving socket's view: true if d.ID names one of this
// socket's own client-issued RPCs (so this DATA is a response), false if
// it names an RPC some other socket is a client of (so this DATA is a
// request, possibly the very first packet of a brand new RPC).
func RouteData(table *rpctable.Table, peer *peertable.Peer, d *wire.Data, isClient bool) (rpc *rpctable.Rpc, isNew bool, err error) {
	bucket := table.BucketFor(d.ID, isClient)
	bucket.Lock()
	defer bucket.Unlock()

	rpc = bucket.LookupLocked(d.ID)
	if rpc != nil {
		return rpc, false, nil
	}

	if isClient {
		return nil, false, ErrUnknownClientRpc
	}

	// First packet of a request this socket has never seen: spec §4.9
	// says any server-bound DATA for an unknown id starts a new RPC,
	// not just one at offset zero, since packets can arrive out of order.
	rpc = rpctable.NewServerRpc(d.ID, peer, int(d.SourcePort), rpctable.NewMessageIn(d.MessageLength, d.Incoming))
	rpc.SetOwner(table)
	bucket.InsertLocked(rpc)
	return rpc, true, nil
}

// RouteResend looks up the RPC named by a RESEND packet. If it names an
// unknown server-bound RPC, the caller must reply with RESTART instead of
// a resend (spec §4.5): the sender still thinks this RPC exists but the
// receiver has no record of it, most likely because it was never created
// or was already reaped.
func RouteResend(table *rpctable.Table, id uint64, isClient bool) (rpc *rpctable.Rpc, needsRestart bool) {
	rpc = table.Lookup(rpctable.Key{ID: id, IsClient: isClient})
	if rpc == nil && !isClient {
		return nil, true
	}
	return rpc, false
}
