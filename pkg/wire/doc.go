// Package wire defines the CBOR encoding used for paircast's durable blobs.
//
// Sealed credentials and persisted device records are encoded with CBOR
// (RFC 8949) using integer keys and canonical key ordering, so the same
// value always produces the same bytes.
//
// # Envelopes
//
// Blobs that leave the process are wrapped in an Envelope carrying a
// format version and a kind tag. Readers reject envelopes whose kind does
// not match what they expect and envelopes from a newer major version.
package wire
