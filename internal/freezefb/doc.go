// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package freezefb encodes FREEZE diagnostic snapshots with FlatBuffers,
// the way the curator's durable state package encodes tract/blob metadata
// for BoltDB: decoding doesn't allocate, and cmd/homadump can walk a
// snapshot's RPC vector directly out of the mmapped/read file without
// parsing fields it doesn't print.
//
// You must have flatc installed to regenerate freeze_generated.go. Get it
// here: https://google.github.io/flatbuffers/
//go:generate flatc --go -o ../.. freeze.fbs
package freezefb

/*

Following the durable state package's conventions:

- Each FlatBuffer type has a corresponding plain Go struct (in structs.go),
named the same way with the "F" suffix dropped.

- Each type has a ToStruct method (in unbuilders.go) that returns the
struct from the FlatBuffer table.

- The root type has a Build function (in builders.go) that takes the
struct and returns an encoded FlatBuffer as a []byte.

Freeze dumps are read, not mutated, so there's no fast-path/slow-path
distinction here: cmd/homadump reads the FlatBuffers objects directly
instead of calling ToStruct.

*/
