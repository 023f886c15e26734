// Package linux implements provisioning backends for Linux hosts.
//
// Each backend wraps one OS tool (useradd, adduser, passwd, usermod, hostnamectl,
// hostname) and reports the tool's exit status as success or a subprocess_failed error.
// Registry turns configured backend kinds into the ordered lists the provisioner walks.
// KeyInstaller and SSHDConfigurer handle authorized_keys and sshd password
// authentication.
package linux
