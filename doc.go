// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package homa implements a Homa-style receiver-driven, SRPT-scheduled
// RPC transport (see SPEC_FULL.md). It wires together the lower-level
// internal/ packages — rpctable (per-socket RPC state), grantsched
// (receiver-side grant scheduling), pacer (sender-side NIC-queue
// throttling), recovery (loss/timeout handling), dispatch (inbound
// demultiplexing and the blocked-receiver wakeup protocol), peertable
// (per-destination routing and rate-limit state) — into the small,
// application-facing surface described in spec §2: SendRequest, Reply,
// Recv, Shutdown and Abort on a Socket, all hosted by one Global.
package homa
