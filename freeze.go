// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package homa

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	log "github.com/golang/glog"

	"github.com/openhoma/homacore/internal/freezefb"
	"github.com/openhoma/homacore/internal/rpctable"
)

// Snapshot captures the current state of every live RPC on s, plus the
// process-wide throttle and grant queue depths it participates in,
// standing in for the kernel source's ring-buffer freeze dump: there is
// no analogous in-kernel buffer here, so a FREEZE instead triggers a
// snapshot of this process's own RPC table and scheduler queues (see
// handleFreeze).
func (s *Socket) Snapshot() *freezefb.SocketSnapshot {
	snap := &freezefb.SocketSnapshot{
		LocalPort:      s.localPort,
		TimestampNanos: time.Now().UnixNano(),
		DeadRpcs:       s.table.DeadCount(),
		ThrottledLen:   s.global.throttle.Len(),
		GrantableLen:   s.global.scheduler.Len(),
	}
	s.table.Walk(func(rpc *rpctable.Rpc) {
		snap.Rpcs = append(snap.Rpcs, rpcSnapshotOf(rpc))
	})
	return snap
}

func rpcSnapshotOf(rpc *rpctable.Rpc) *freezefb.RpcSnapshot {
	rs := &freezefb.RpcSnapshot{
		ID:       rpc.ID,
		IsClient: rpc.IsClient,
		State:    rpc.State.String(),
	}
	if rpc.Peer != nil {
		rs.Peer = rpc.Peer.Addr.String()
	}
	if rpc.MsgIn != nil {
		rs.BytesRemainingIn = rpc.MsgIn.BytesRemaining()
	}
	if rpc.MsgOut != nil {
		rs.BytesRemainingOut = rpc.MsgOut.BytesRemainingToSend()
	}
	return rs
}

// WriteFreezeDump snappy-compresses a FlatBuffers encoding of s.Snapshot()
// to w, the same streaming-compression idiom used to write curator FSM
// snapshots: a plain io.Writer wrapped once, flushed once. FlatBuffers
// rather than JSON, matching how the curator's durable state package
// encodes its own BoltDB-persisted metadata, so cmd/homadump can read a
// large dump's RPC vector without allocating or decoding entries it
// doesn't print.
func (s *Socket) WriteFreezeDump(w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(freezefb.BuildSocketSnapshot(s.Snapshot())); err != nil {
		return err
	}
	return sw.Flush()
}

// dumpFreeze writes a freeze snapshot for s to g's configured dump
// directory, named after the socket and the triggering RPC id. It is a
// no-op if no directory has been configured.
func (g *Global) dumpFreeze(s *Socket, rpcID uint64) {
	if g.dumpDir == "" {
		return
	}
	name := fmt.Sprintf("freeze-%d-%d-%d.snappy", s.localPort, rpcID, time.Now().UnixNano())
	path := filepath.Join(g.dumpDir, name)
	f, err := os.Create(path)
	if err != nil {
		log.Errorf("homa: couldn't create freeze dump %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := s.WriteFreezeDump(f); err != nil {
		log.Errorf("homa: couldn't write freeze dump %s: %v", path, err)
		return
	}
	log.Infof("homa: wrote freeze dump %s", path)
}

// SetFreezeDumpDir configures where FREEZE-triggered diagnostic snapshots
// are written. An empty dir (the default) disables dumping.
func (g *Global) SetFreezeDumpDir(dir string) {
	g.dumpDir = dir
}
