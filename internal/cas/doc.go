// Package cas deduplicates cooked payloads by content signature and reserves
// aligned byte ranges in an append-only data file.
//
// Signatures are BLAKE3 digests over a descriptor's defining fields; the
// final content hash is excluded so matching happens before payload hashing.
// AcquireOrInsert guarantees one winning reservation per distinct signature:
// the shared file-size counter advances through a lock-free compare-and-swap
// loop while the dedup table insert sits under a narrow mutex that is never
// held across I/O.
//
// The package also owns the cooked payload wire layout: a fixed header, a
// subresource layout table, and the blob, at policy-dependent alignment.
package cas
