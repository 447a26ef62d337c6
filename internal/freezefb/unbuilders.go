// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package freezefb

// ToStruct returns a new RpcSnapshot from the FlatBuffer table.
func (rcv *RpcSnapshotF) ToStruct() *RpcSnapshot {
	return &RpcSnapshot{
		ID:                rcv.Id(),
		IsClient:          rcv.IsClient(),
		State:             string(rcv.State()),
		Peer:              string(rcv.Peer()),
		BytesRemainingIn:  rcv.BytesRemainingIn(),
		BytesRemainingOut: rcv.BytesRemainingOut(),
	}
}

// ToStruct returns a new SocketSnapshot from the FlatBuffer table. Callers
// that only need a couple of fields should prefer reading the FlatBuffer
// object directly; cmd/homadump does this for the whole tree.
func (rcv *SocketSnapshotF) ToStruct() *SocketSnapshot {
	s := &SocketSnapshot{
		LocalPort:      int(rcv.LocalPort()),
		TimestampNanos: rcv.TimestampNanos(),
		DeadRpcs:       int(rcv.DeadRpcs()),
		ThrottledLen:   int(rcv.ThrottledLen()),
		GrantableLen:   int(rcv.GrantableLen()),
	}
	var rf RpcSnapshotF
	for i := 0; i < rcv.RpcsLength(); i++ {
		if rcv.Rpcs(&rf, i) {
			s.Rpcs = append(s.Rpcs, rf.ToStruct())
		}
	}
	return s
}
