// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package hometest

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/openhoma/homacore/transport"
)

// Dropper wraps a transport.Transport and drops outbound packets with a
// configurable, per-destination probability. Grounded on the teacher's
// msgDropper (pkg/raft/raft/msg_dropper.go), adapted from raft.Msg/Transport
// to transport.Inbound/Transport and stripped of the failures-package
// dynamic-reconfiguration hook, which has no equivalent surface here.
type Dropper struct {
	lower transport.Transport

	mu       sync.Mutex
	prob     map[string]float32
	defaultP float32
	rnd      *rand.Rand

	Sent    int
	Dropped int
}

// NewDropper wraps lower, dropping packets with probability defaultProb
// unless overridden per-destination with Set.
func NewDropper(lower transport.Transport, seed int64, defaultProb float32) *Dropper {
	return &Dropper{
		lower:    lower,
		prob:     make(map[string]float32),
		defaultP: defaultProb,
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// Set overrides the drop probability for one destination.
func (d *Dropper) Set(dst transport.Endpoint, p float32) {
	d.mu.Lock()
	d.prob[dst.String()] = p
	d.mu.Unlock()
}

// LocalAddr implements transport.Transport.
func (d *Dropper) LocalAddr() transport.Endpoint { return d.lower.LocalAddr() }

// Recv implements transport.PacketSource.
func (d *Dropper) Recv() (transport.Inbound, error) { return d.lower.Recv() }

// Close implements transport.Transport.
func (d *Dropper) Close() error { return d.lower.Close() }

// Send implements transport.PacketSink, dropping with the configured
// probability instead of forwarding.
func (d *Dropper) Send(dst transport.Endpoint, priority int, payload []byte) error {
	d.mu.Lock()
	p, ok := d.prob[dst.String()]
	if !ok {
		p = d.defaultP
	}
	d.Sent++
	drop := d.rnd.Float32() < p
	if drop {
		d.Dropped++
	}
	d.mu.Unlock()
	if drop {
		log.V(10).Infof("hometest: dropped packet to %s", dst)
		return nil
	}
	return d.lower.Send(dst, priority, payload)
}

// Duplicator wraps a transport.Transport and occasionally resends a
// previously-sent packet, exercising duplicate-segment handling in
// message reassembly. Grounded on msgDuplicator.
type Duplicator struct {
	lower transport.Transport

	mu   sync.Mutex
	pool []dupEntry
	cap  int
	prob float32
	rnd  *rand.Rand
}

type dupEntry struct {
	dst      transport.Endpoint
	priority int
	payload  []byte
}

// NewDuplicator wraps lower, resending a random recently-sent packet with
// probability p every time Send is called, keeping up to limit packets in
// its replay pool.
func NewDuplicator(lower transport.Transport, limit int, p float32, seed int64) *Duplicator {
	return &Duplicator{lower: lower, cap: limit, prob: p, rnd: rand.New(rand.NewSource(seed))}
}

// LocalAddr implements transport.Transport.
func (d *Duplicator) LocalAddr() transport.Endpoint { return d.lower.LocalAddr() }

// Recv implements transport.PacketSource.
func (d *Duplicator) Recv() (transport.Inbound, error) { return d.lower.Recv() }

// Close implements transport.Transport.
func (d *Duplicator) Close() error { return d.lower.Close() }

// Send implements transport.PacketSink.
func (d *Duplicator) Send(dst transport.Endpoint, priority int, payload []byte) error {
	if err := d.lower.Send(dst, priority, payload); err != nil {
		return err
	}
	d.mu.Lock()
	d.pool = append(d.pool, dupEntry{dst, priority, append([]byte(nil), payload...)})
	if len(d.pool) > d.cap {
		d.pool = d.pool[1:]
	}
	replay := d.rnd.Float32() < d.prob
	var pick dupEntry
	if replay {
		pick = d.pool[d.rnd.Intn(len(d.pool))]
	}
	d.mu.Unlock()
	if replay {
		log.V(10).Infof("hometest: duplicating packet to %s", pick.dst)
		return d.lower.Send(pick.dst, pick.priority, pick.payload)
	}
	return nil
}

// Reorderer wraps a transport.Transport and delays some outbound packets
// by a random amount, so packets can arrive out of the order they were
// sent in. Grounded on msgReorder.
type Reorderer struct {
	lower    transport.Transport
	prob     float32
	maxDelay time.Duration
	rnd      *rand.Rand
	rndMu    sync.Mutex
	wg       sync.WaitGroup
}

// NewReorderer wraps lower, delaying each Send by up to maxDelay with
// probability p.
func NewReorderer(lower transport.Transport, p float32, maxDelay time.Duration, seed int64) *Reorderer {
	return &Reorderer{lower: lower, prob: p, maxDelay: maxDelay, rnd: rand.New(rand.NewSource(seed))}
}

// LocalAddr implements transport.Transport.
func (r *Reorderer) LocalAddr() transport.Endpoint { return r.lower.LocalAddr() }

// Recv implements transport.PacketSource.
func (r *Reorderer) Recv() (transport.Inbound, error) { return r.lower.Recv() }

// Close waits for delayed sends to finish before closing the lower
// transport.
func (r *Reorderer) Close() error {
	r.wg.Wait()
	return r.lower.Close()
}

// Send implements transport.PacketSink.
func (r *Reorderer) Send(dst transport.Endpoint, priority int, payload []byte) error {
	r.rndMu.Lock()
	delay := r.rnd.Float32() < r.prob
	var d time.Duration
	if delay && r.maxDelay > 0 {
		d = time.Duration(r.rnd.Int63n(int64(r.maxDelay)))
	}
	r.rndMu.Unlock()
	if !delay {
		return r.lower.Send(dst, priority, payload)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		time.Sleep(d)
		r.lower.Send(dst, priority, payload)
	}()
	return nil
}
