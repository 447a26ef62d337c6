// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package freezefb

// RpcSnapshot is the struct version of RpcSnapshotF: one RPC's diagnostic
// state, captured for a freeze dump.
type RpcSnapshot struct {
	ID                uint64
	IsClient          bool
	State             string
	Peer              string
	BytesRemainingIn  uint32
	BytesRemainingOut uint32
}

// SocketSnapshot is the struct version of SocketSnapshotF: a point-in-time
// diagnostic capture of one socket, plus the process-wide throttle and
// grant queue depths it participates in.
type SocketSnapshot struct {
	LocalPort      int
	TimestampNanos int64
	DeadRpcs       int
	ThrottledLen   int
	GrantableLen   int
	Rpcs           []*RpcSnapshot
}
