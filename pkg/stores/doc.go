// Package stores persists provisioning state on the host.
//
// IdentitySource derives the VM identity from the hardware UUID. Ledger keeps one empty
// marker file per identity that has completed provisioning; a marker exists only after a
// fully successful run. Journal is an optional SQLite history of runs and backend attempts
// used for diagnostics; it never decides whether to provision.
package stores
