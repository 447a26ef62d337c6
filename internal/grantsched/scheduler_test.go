// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package grantsched

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/peertable"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/transport"
)

func testPeer(t *testing.T) *peertable.Peer {
	t.Helper()
	tbl := peertable.NewTable(nil, time.Millisecond, 8)
	p, err := tbl.Get(transport.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 1}, time.Now())
	require.NoError(t, err)
	return p
}

func serverRpc(t *testing.T, id uint64, total, unsched uint32) *rpctable.Rpc {
	return rpctable.NewServerRpc(id, testPeer(t), 80, rpctable.NewMessageIn(total, unsched))
}

func TestSchedulerAddsOnlyGrantableRpcs(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewScheduler(cfg)

	small := serverRpc(t, 1, 100, 10000) // fits entirely in unscheduled bytes
	large := serverRpc(t, 2, 50000, 10000)

	s.Update(small)
	s.Update(large)

	assert.Equal(t, 1, s.Len(), "only the scheduled message should be grantable")
}

func TestSchedulerRemovesWhenComplete(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewScheduler(cfg)

	rpc := serverRpc(t, 1, 20000, 10000)
	s.Update(rpc)
	require.Equal(t, 1, s.Len())

	rpc.MsgIn.Insert(0, 20000, nil)
	s.Update(rpc)
	assert.Equal(t, 0, s.Len(), "fully received message must leave the grantable list")
}

func TestSchedulerOrdersBySRPT(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxOvercommit = 8
	s := NewScheduler(cfg)

	big := serverRpc(t, 1, 100000, 10000)
	small := serverRpc(t, 2, 30000, 10000)
	medium := serverRpc(t, 3, 60000, 10000)

	s.Update(big)
	s.Update(small)
	s.Update(medium)

	// Consume one byte of unscheduled slack from each so every RPC needs
	// a grant right away (freshly created RPCs start with slack exactly
	// equal to GrantIncrement, which does not yet warrant a grant).
	big.MsgIn.Insert(0, 1, nil)
	small.MsgIn.Insert(0, 1, nil)
	medium.MsgIn.Insert(0, 1, nil)

	grants := s.ComputeGrants()
	require.Len(t, grants, 3)
	// small (least bytes remaining) should be assigned the highest
	// priority, i.e. rank 0.
	assert.Same(t, small, grants[0].Rpc)
	assert.Equal(t, cfg.MaxSchedPrio, grants[0].Priority)
	assert.Same(t, medium, grants[1].Rpc)
	assert.Same(t, big, grants[2].Rpc)
	assert.Less(t, grants[2].Priority, grants[0].Priority)
}

func TestSchedulerGrantOnlyWhenSlackLow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GrantIncrement = 10000
	s := NewScheduler(cfg)

	rpc := serverRpc(t, 1, 100000, 10000)
	s.Update(rpc)

	// Incoming is 10000, received is 0: slack is 10000, not < increment,
	// so no grant yet.
	grants := s.ComputeGrants()
	assert.Empty(t, grants)

	rpc.MsgIn.Insert(0, 5000, nil)
	grants = s.ComputeGrants()
	require.Len(t, grants, 1)
	assert.Equal(t, uint32(20000), grants[0].NewIncoming)
}

func TestSchedulerRespectsMaxOvercommit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxOvercommit = 2
	cfg.FifoFraction = 0
	s := NewScheduler(cfg)

	for i := uint64(1); i <= 5; i++ {
		rpc := serverRpc(t, i, 50000, 10000)
		rpc.MsgIn.Insert(0, 1, nil)
		s.Update(rpc)
	}

	grants := s.ComputeGrants()
	assert.Len(t, grants, 2)
}

func TestSchedulerFifoFractionSubstitutesOldest(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxOvercommit = 1
	cfg.FifoFraction = 1 // substitute every round once eligible
	s := NewScheduler(cfg)

	oldest := serverRpc(t, 1, 100000, 10000) // largest remaining, added first
	oldest.MsgIn.Insert(0, 1, nil)
	s.Update(oldest)
	newest := serverRpc(t, 2, 20000, 10000) // smallest remaining, added second
	newest.MsgIn.Insert(0, 1, nil)
	s.Update(newest)

	grants := s.ComputeGrants()
	require.Len(t, grants, 1)
	assert.Same(t, oldest, grants[0].Rpc, "fifo substitution should surface the oldest RPC instead of pure SRPT")
}

func TestSchedulerRemoveDetachesRpc(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewScheduler(cfg)
	rpc := serverRpc(t, 1, 50000, 10000)
	s.Update(rpc)
	require.True(t, rpc.OnGrantableList())

	s.Remove(rpc)
	assert.False(t, rpc.OnGrantableList())
	assert.Equal(t, 0, s.Len())
}
