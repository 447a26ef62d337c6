// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package metrics exposes the transport's counters and gauges via
// Prometheus, grounded on pkg/raft/raft's promauto-based metric
// declarations. All metrics are labeled by socket so a process hosting
// several Homa sockets reports them separately.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsReceivedVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "packets_received",
	}, []string{"socket", "type"})

	grantsSentVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "grants_sent",
	}, []string{"socket"})

	resendsSentVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "resends_sent",
	}, []string{"socket"})

	resentPacketsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "resent_packets",
	}, []string{"socket"})

	restartsSentVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "restarts_sent",
	}, []string{"socket"})

	freezesSentVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "freezes_sent",
	}, []string{"socket"})

	busySentVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "busy_sent",
	}, []string{"socket"})

	abortsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "rpcs_aborted",
	}, []string{"socket"})

	discardsNoRpcVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "discards_no_rpc",
	}, []string{"socket"})

	shortPacketsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "short_packets",
	}, []string{"socket"})

	unknownTypesVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "unknown_packet_types",
	}, []string{"socket"})

	pacerSkippedRpcsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "pacer_skipped_rpcs",
	}, []string{"socket"})

	throttledLenVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "homa",
		Name:      "throttled_rpcs",
	}, []string{"socket"})

	grantableLenVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "homa",
		Name:      "grantable_rpcs",
	}, []string{"socket"})

	deadRpcsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "homa",
		Name:      "dead_rpcs",
	}, []string{"socket"})

	linkIdleDriftVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "homa",
		Name:      "link_idle_time_cycles",
	}, []string{"socket"})

	peerAllocFailuresVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "homa",
		Name:      "peer_alloc_failures",
	}, []string{"socket"})
)

// Socket is the set of metrics for one Homa socket, all pre-bound to that
// socket's label so hot-path code never touches label matching.
type Socket struct {
	name               string
	GrantsSent         prometheus.Counter
	ResendsSent        prometheus.Counter
	ResentPackets      prometheus.Counter
	RestartsSent       prometheus.Counter
	FreezesSent        prometheus.Counter
	BusySent           prometheus.Counter
	Aborts             prometheus.Counter
	DiscardsNoRpc      prometheus.Counter
	ShortPackets       prometheus.Counter
	UnknownTypes       prometheus.Counter
	PacerSkippedRpcs   prometheus.Counter
	ThrottledLen       prometheus.Gauge
	GrantableLen       prometheus.Gauge
	DeadRpcs           prometheus.Gauge
	LinkIdleTimeCycles prometheus.Gauge
	PeerAllocFailures  prometheus.Counter
}

// NewSocket returns the metric handles for one socket, identified by
// name (typically "host:port").
func NewSocket(name string) *Socket {
	return &Socket{
		name:               name,
		GrantsSent:         grantsSentVec.WithLabelValues(name),
		ResendsSent:        resendsSentVec.WithLabelValues(name),
		ResentPackets:      resentPacketsVec.WithLabelValues(name),
		RestartsSent:       restartsSentVec.WithLabelValues(name),
		FreezesSent:        freezesSentVec.WithLabelValues(name),
		BusySent:           busySentVec.WithLabelValues(name),
		Aborts:             abortsVec.WithLabelValues(name),
		DiscardsNoRpc:      discardsNoRpcVec.WithLabelValues(name),
		ShortPackets:       shortPacketsVec.WithLabelValues(name),
		UnknownTypes:       unknownTypesVec.WithLabelValues(name),
		PacerSkippedRpcs:   pacerSkippedRpcsVec.WithLabelValues(name),
		ThrottledLen:       throttledLenVec.WithLabelValues(name),
		GrantableLen:       grantableLenVec.WithLabelValues(name),
		DeadRpcs:           deadRpcsVec.WithLabelValues(name),
		LinkIdleTimeCycles: linkIdleDriftVec.WithLabelValues(name),
		PeerAllocFailures:  peerAllocFailuresVec.WithLabelValues(name),
	}
}

// PacketReceived counts one inbound packet of the given wire type.
func (s *Socket) PacketReceived(packetType string) {
	packetsReceivedVec.WithLabelValues(s.name, packetType).Inc()
}
