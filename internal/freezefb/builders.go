// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package freezefb

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// BuildSocketSnapshot encodes a SocketSnapshot from a struct.
func BuildSocketSnapshot(s *SocketSnapshot) []byte {
	bu := flatbuffers.NewBuilder(256)

	putRpc := func(r *RpcSnapshot) flatbuffers.UOffsetT {
		state := bu.CreateString(r.State)
		peer := bu.CreateString(r.Peer)
		RpcSnapshotFStart(bu)
		RpcSnapshotFAddId(bu, r.ID)
		RpcSnapshotFAddIsClient(bu, r.IsClient)
		RpcSnapshotFAddState(bu, state)
		RpcSnapshotFAddPeer(bu, peer)
		RpcSnapshotFAddBytesRemainingIn(bu, r.BytesRemainingIn)
		RpcSnapshotFAddBytesRemainingOut(bu, r.BytesRemainingOut)
		return RpcSnapshotFEnd(bu)
	}

	n := len(s.Rpcs)
	offs := make([]flatbuffers.UOffsetT, n)
	for i := n - 1; i >= 0; i-- {
		offs[n-1-i] = putRpc(s.Rpcs[i])
	}

	SocketSnapshotFStartRpcsVector(bu, n)
	for _, off := range offs {
		bu.PrependUOffsetT(off)
	}
	rpcsVec := bu.EndVector(n)

	SocketSnapshotFStart(bu)
	SocketSnapshotFAddLocalPort(bu, int32(s.LocalPort))
	SocketSnapshotFAddTimestampNanos(bu, s.TimestampNanos)
	SocketSnapshotFAddDeadRpcs(bu, int32(s.DeadRpcs))
	SocketSnapshotFAddThrottledLen(bu, int32(s.ThrottledLen))
	SocketSnapshotFAddGrantableLen(bu, int32(s.GrantableLen))
	SocketSnapshotFAddRpcs(bu, rpcsVec)
	bu.Finish(SocketSnapshotFEnd(bu))
	return bu.FinishedBytes()
}
