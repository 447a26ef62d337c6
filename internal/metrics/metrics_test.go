// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketMetricsRecordCounts(t *testing.T) {
	s := NewSocket("test-socket-metrics")

	s.GrantsSent.Inc()
	s.GrantsSent.Inc()
	s.ResendsSent.Inc()
	s.PacketReceived("data")
	s.PacketReceived("data")
	s.ThrottledLen.Set(3)

	m := &dto.Metric{}
	require.NoError(t, s.GrantsSent.Write(m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())

	m2 := &dto.Metric{}
	require.NoError(t, s.ThrottledLen.Write(m2))
	assert.Equal(t, float64(3), m2.GetGauge().GetValue())
}

func TestNewSocketIsolatesLabels(t *testing.T) {
	a := NewSocket("socket-a")
	b := NewSocket("socket-b")

	a.RestartsSent.Inc()

	m := &dto.Metric{}
	require.NoError(t, b.RestartsSent.Write(m))
	assert.Equal(t, float64(0), m.GetCounter().GetValue())
}
