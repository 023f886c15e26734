package engine

import (
	"fmt"
	"strings"
)

// Capability names one provisioning concern with its own ordered backend list.
type Capability string

const (
	CapabilityUser     Capability = "user"
	CapabilityPassword Capability = "password"
	CapabilitySSH      Capability = "ssh"
	CapabilityHostname Capability = "hostname"
)

// PublicKey is an SSH public key destined for the user's authorized_keys file.
type PublicKey struct {
	// KeyData is the key in authorized_keys format, e.g. "ssh-ed25519 AAAA... comment".
	KeyData string `json:"keyData"`

	// Path is the location the control plane suggests for the key. Informational only.
	Path string `json:"path,omitempty"`
}

// User is the account to create on the host.
type User struct {
	Name     string      `json:"name"`
	Groups   []string    `json:"groups"`
	SSHKeys  []PublicKey `json:"ssh_keys"`
	Password *string     `json:"-"`
}

// DefaultGroups are applied when no groups are requested.
var DefaultGroups = []string{"wheel"}

// NewUser returns a user in the default groups with no password.
func NewUser(name string, keys []PublicKey) User {
	return User{
		Name:    name,
		Groups:  append([]string(nil), DefaultGroups...),
		SSHKeys: keys,
	}
}

// WithPassword returns a copy of u with password set.
func (u User) WithPassword(password string) User {
	u.Password = &password
	return u
}

// WithGroups returns a copy of u with its supplementary groups replaced. Duplicate and
// blank group names are dropped, keeping first-seen order.
func (u User) WithGroups(groups []string) User {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	u.Groups = out
	return u
}

// HasPassword reports whether an explicit password was supplied.
func (u User) HasPassword() bool {
	return u.Password != nil
}

// String never includes the password.
func (u User) String() string {
	pw := "unset"
	if u.HasPassword() {
		pw = "set"
	}
	return fmt.Sprintf("User{name=%s groups=%v ssh_keys=%d password=%s}", u.Name, u.Groups, len(u.SSHKeys), pw)
}

// ProvisioningSpec is the desired end-state for one provisioning run. It is read-only to
// the provisioner.
type ProvisioningSpec struct {
	Hostname string `json:"hostname"`
	User     User   `json:"user"`
}
