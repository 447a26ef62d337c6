// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhoma/homacore/internal/rpctable"
)

func TestApplyRestartResetsMsgOut(t *testing.T) {
	rpc := rpctable.NewClientRpc(1, testPeer(t, time.Millisecond), 80,
		rpctable.AssembleOutbound(make([]byte, 100000), 1500, 10000, 65536, 65536))
	rpc.MsgOut.SetGranted(rpc.MsgOut.Length())
	batch := rpc.MsgOut.NextBatch(100)
	rpc.MsgOut.MarkBatchSent(batch)
	require.Greater(t, rpc.MsgOut.NextPacket(), uint32(0))

	ApplyRestart(rpc)

	assert.Equal(t, uint32(0), rpc.MsgOut.NextPacket())
	assert.Equal(t, rpc.MsgOut.Unscheduled(), rpc.MsgOut.Granted())
}

func TestApplyRestartDiscardsMsgIn(t *testing.T) {
	rpc := rpctable.NewClientRpc(1, testPeer(t, time.Millisecond), 80,
		rpctable.AssembleOutbound(make([]byte, 100), 1500, 10000, 65536, 65536))
	rpc.MsgIn = rpctable.NewMessageIn(1000, 100)
	rpc.MsgIn.Insert(0, 500, nil)
	require.Equal(t, uint32(500), rpc.MsgIn.BytesReceived())

	ApplyRestart(rpc)

	assert.Nil(t, rpc.MsgIn, "a partially-received response is discarded outright, not resized in place")
}

func TestApplyRestartIsIdempotent(t *testing.T) {
	rpc := rpctable.NewClientRpc(1, testPeer(t, time.Millisecond), 80,
		rpctable.AssembleOutbound(make([]byte, 100), 1500, 10000, 65536, 65536))
	rpc.MsgIn = rpctable.NewMessageIn(1000, 100)
	rpc.MsgIn.Insert(0, 500, nil)

	ApplyRestart(rpc)
	ApplyRestart(rpc)

	assert.Nil(t, rpc.MsgIn)
}

func TestApplyRestartResetsResendBookkeeping(t *testing.T) {
	rpc := rpctable.NewClientRpc(1, testPeer(t, time.Millisecond), 80,
		rpctable.AssembleOutbound(make([]byte, 100), 1500, 10000, 65536, 65536))
	rpc.SilentTicks = 4
	rpc.NumResends = 3

	ApplyRestart(rpc)
	assert.Equal(t, 0, rpc.SilentTicks)
	assert.Equal(t, 0, rpc.NumResends)
}
