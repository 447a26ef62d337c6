// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package persist provides an optional durable ledger for client-port
// allocation, grounded on internal/raftkv/db's use of github.com/boltdb/bolt
// as an embedded key-value store. Homa client ports are chosen locally by
// the transport (spec §3); persisting the high-water mark means a
// restarted server does not immediately reissue a port that a still-live
// remote peer associates with a pre-restart RPC.
package persist

import (
	"encoding/binary"
	"sync"

	"github.com/boltdb/bolt"
)

var (
	ledgerBucket = []byte("homa_ports")
	highWaterKey = []byte("high_water_mark")
)

// PortLedger is a boltdb-backed record of the highest client port issued
// so far.
type PortLedger struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a port ledger at path.
func Open(path string) (*PortLedger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgerBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PortLedger{db: db}, nil
}

// Close closes the underlying database.
func (l *PortLedger) Close() error {
	return l.db.Close()
}

// LoadHighWaterMark returns the persisted high-water mark, or 0 if none
// has ever been saved.
func (l *PortLedger) LoadHighWaterMark() (int, error) {
	var mark int
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ledgerBucket).Get(highWaterKey)
		if len(v) == 8 {
			mark = int(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return mark, err
}

// SaveHighWaterMark persists mark, overwriting any previous value.
func (l *PortLedger) SaveHighWaterMark(mark int) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(mark))
		return tx.Bucket(ledgerBucket).Put(highWaterKey, b[:])
	})
}

// PortAllocator hands out successive client ports.
type PortAllocator interface {
	Next() int
}

// MemoryAllocator is a non-durable PortAllocator: ports restart from the
// same low value every process start, which is fine when peers can't
// have outstanding RPCs from a previous incarnation (e.g. ephemeral
// clients, or a server that always tells peers to RESTART on unrecognized
// ids anyway).
type MemoryAllocator struct {
	mu   sync.Mutex
	next int
}

// NewMemoryAllocator returns an allocator starting at start.
func NewMemoryAllocator(start int) *MemoryAllocator {
	return &MemoryAllocator{next: start}
}

// Next returns the next port and advances the counter.
func (a *MemoryAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.next
	a.next++
	return p
}

// DurableAllocator persists its high-water mark to a PortLedger on every
// allocation, so a restart resumes past every port that might still be
// remembered by a remote peer.
type DurableAllocator struct {
	mu     sync.Mutex
	next   int
	ledger *PortLedger
}

// NewDurableAllocator creates an allocator seeded from the ledger's
// persisted high-water mark, or start if that's higher (e.g. first run).
func NewDurableAllocator(ledger *PortLedger, start int) (*DurableAllocator, error) {
	mark, err := ledger.LoadHighWaterMark()
	if err != nil {
		return nil, err
	}
	next := start
	if mark > next {
		next = mark
	}
	return &DurableAllocator{next: next, ledger: ledger}, nil
}

// Next returns the next port, advances the counter, and persists the new
// high-water mark before returning.
func (a *DurableAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.next
	a.next++
	if err := a.ledger.SaveHighWaterMark(a.next); err != nil {
		// The in-memory counter still advanced, so this process will
		// never reuse p; a failed persist only risks re-issuing p after
		// a future restart, which is the same exposure MemoryAllocator
		// always has.
		return p
	}
	return p
}
