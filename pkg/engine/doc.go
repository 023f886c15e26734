// Package engine contains the provisioning core of vminit: the desired-state types, the
// classified error taxonomy shared by every package, and the Provisioner that applies a
// ProvisioningSpec to the host.
//
// # Capabilities and backends
//
// Host mutation is split into capabilities. User creation, password policy and hostname
// are pluggable: each is an ordered BackendList and the Provisioner tries the backends in
// order until one succeeds. SSH key installation is a fixed procedure run through a
// KeyInstaller.
//
//	user -> password -> ssh keys -> hostname
//
// The order is fixed because the later steps need the user to exist. A capability whose
// backends all fail aborts the run with ErrNoUserProvisioner, ErrNoPasswordProvisioner or
// ErrNoHostnameProvisioner.
//
// # Errors
//
// Every package returns *Error values classified by ErrorKind. Use errors.Is against the
// package sentinels:
//
//	if errors.Is(err, engine.ErrTimeout) { ... }
//	if errors.Is(err, engine.ErrNoUserProvisioner) { ... }
package engine
