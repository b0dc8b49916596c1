// Package persistence stores paired devices and their sealed credentials.
//
// Credentials are kept exactly as the vault sealed them. Nothing in this
// package can unseal a credential; the key never leaves the vault.
//
// Two stores are provided: FileStore keeps a single JSON document and the
// sqlite subpackage keeps one row per device.
package persistence
