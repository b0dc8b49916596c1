// Package detect classifies open TCP endpoints by display manufacturer.
//
// The scanner hands each successful connection to a Detector together with
// the address and port. Vendor probes registered for that port run their
// fingerprint exchange over the already-open socket; a match is reported
// with high confidence. When no vendor probe matches, a generic HTTP probe
// requests a few well-known paths on fresh connections and reports any
// HTTP-speaking endpoint as a generic display with low confidence.
//
// Detection never fails loudly. Handshake errors are logged at debug level
// and the endpoint falls through to the next probe.
package detect
