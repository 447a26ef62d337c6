// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package peertable

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	log "github.com/golang/glog"

	"github.com/openhoma/homacore/transport"
)

// Table is the peer table described in spec §4.2. Peer entries themselves
// are append-only and never evicted or freed: once created, a *Peer
// reference is valid for the life of the process, matching the kernel
// source's RCU-protected peer table. Layered on top, an LRU-bounded cache
// of resolved RoutingHandle values (grounded on pkg/rpc/connection_cache.go's
// use of github.com/golang/groupcache/lru) keeps route-resolution book-keeping
// from growing without bound in a long-lived process that talks to many
// short-lived peers; evicting a cache entry never invalidates the Peer,
// which keeps the handle it was created with. Get does not re-resolve an
// evicted route; CachedRoute simply reports it as absent.
type Table struct {
	resolver       RouteResolver
	resendInterval time.Duration

	mu    sync.RWMutex
	peers map[string]*Peer

	cacheMu    sync.Mutex
	routeCache *lru.Cache

	allocFailures int
}

// NewTable creates a peer table. maxCachedRoutes bounds the routing-handle
// cache; zero means unbounded (never evict).
func NewTable(resolver RouteResolver, resendInterval time.Duration, maxCachedRoutes int) *Table {
	if resolver == nil {
		resolver = identityResolver{}
	}
	t := &Table{
		resolver:       resolver,
		resendInterval: resendInterval,
		peers:          make(map[string]*Peer),
		routeCache:     lru.New(maxCachedRoutes),
	}
	t.routeCache.OnEvicted = func(key lru.Key, value interface{}) {
		log.V(10).Infof("peertable: evicted cached route for %v", key)
	}
	return t
}

// Get returns the Peer for addr, resolving and inserting it on first
// contact. Lookups of an already-known peer take only a read lock; per
// spec, once inserted a Peer reference may be retained indefinitely.
func (t *Table) Get(addr transport.Endpoint, now time.Time) (*Peer, error) {
	key := addr.String()

	t.mu.RLock()
	p, ok := t.peers[key]
	t.mu.RUnlock()
	if ok {
		return p, nil
	}

	// Miss: resolve the route outside any lock, then insert under the
	// write lock, checking again for a concurrent winner (spec §4.2:
	// "on miss under write lock, allocate, route-resolve, insert at
	// head, release").
	handle, err := t.resolver.Resolve(addr)
	if err != nil {
		t.mu.Lock()
		t.allocFailures++
		t.mu.Unlock()
		log.Errorf("peertable: route resolution failed for %s: %v", addr, err)
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[key]; ok {
		return p, nil
	}
	p = newPeer(addr, handle, t.resendInterval, now)
	t.peers[key] = p
	t.cacheRoute(key, handle)
	return p, nil
}

func (t *Table) cacheRoute(key string, handle RoutingHandle) {
	t.cacheMu.Lock()
	t.routeCache.Add(key, handle)
	t.cacheMu.Unlock()
}

// CachedRoute returns the cached routing handle for addr if it's still in
// the LRU cache, refreshing its recency.
func (t *Table) CachedRoute(addr transport.Endpoint) (RoutingHandle, bool) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	v, ok := t.routeCache.Get(addr.String())
	if !ok {
		return nil, false
	}
	return v, true
}

// AllocFailures returns the total number of route-resolution failures
// seen by this table (spec §7 resource-exhaustion accounting).
func (t *Table) AllocFailures() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allocFailures
}

// Len returns the number of known peers, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
