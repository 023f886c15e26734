// Package agent runs the boot-time provisioning sequence.
//
// A run checks the ledger, acknowledges the wireserver goalstate, reports progress,
// reads the instance metadata, vets the resulting spec against policy, applies it with
// the provisioner, optionally adjusts sshd password authentication, writes the ledger
// marker and finally reports Ready. Any failure before the marker is reported as
// ProvisioningFailed and leaves the ledger untouched so the next boot tries again.
package agent
