// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package recovery

import "github.com/openhoma/homacore/internal/rpctable"

// ApplyRestart re-linearizes an RPC after receiving a RESTART packet
// (spec §4.8): MsgOut is reset in place so the request re-sends from
// offset zero, and any partially-received response is discarded outright
// (msgin is discarded, not rebuilt) since the peer has thrown away
// whatever state it had for this id and will re-derive the response's
// real length from its own retransmitted DATA once msgin is nil again.
//
// Applying RESTART twice in a row (a duplicate control packet, or two
// independent triggers racing) is idempotent: MsgOut.Reset is itself
// idempotent, and MsgIn is already nil the second time.
func ApplyRestart(rpc *rpctable.Rpc) {
	if rpc.MsgOut != nil {
		rpc.MsgOut.Reset()
	}
	rpc.MsgIn = nil
	rpc.SilentTicks = 0
	rpc.NumResends = 0
}
