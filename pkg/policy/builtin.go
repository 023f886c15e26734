package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		passwordPolicy(),
		usernamePolicy(),
		hostnamePolicy(),
	}
}

func passwordPolicy() Policy {
	return Policy{
		Name:        "password",
		Description: "Rejects explicit passwords unless the operator allows them",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package vminit.policies.password

import rego.v1

deny contains violation if {
	input.user.has_password
	not input.params.allow_password
	violation := {
		"rule": "non_empty_password",
		"message": sprintf("user %s requests a password, which is not allowed", [input.user.name]),
	}
}
`,
	}
}

func usernamePolicy() Policy {
	return Policy{
		Name:        "username",
		Description: "Rejects empty and reserved usernames",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package vminit.policies.username

import rego.v1

deny contains violation if {
	trim_space(input.user.name) == ""
	violation := {
		"rule": "empty_username",
		"message": "username must not be empty",
	}
}

deny contains violation if {
	some reserved in input.params.reserved_users
	lower(input.user.name) == lower(reserved)
	violation := {
		"rule": "reserved_username",
		"message": sprintf("username %s is reserved", [input.user.name]),
	}
}
`,
	}
}

func hostnamePolicy() Policy {
	return Policy{
		Name:        "hostname",
		Description: "Requires the hostname to be a dotted name of short alphanumeric labels",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package vminit.policies.hostname

import rego.v1

deny contains violation if {
	count(input.hostname) > 253
	violation := {
		"rule": "hostname_length",
		"message": sprintf("hostname %s is longer than 253 characters", [input.hostname]),
	}
}

deny contains violation if {
	some label in split(input.hostname, ".")
	count(label) > 64
	violation := {
		"rule": "hostname_length",
		"message": sprintf("hostname label %s is longer than 64 characters", [label]),
	}
}

deny contains violation if {
	some label in split(input.hostname, ".")
	not regex.match("^[A-Za-z0-9_]([A-Za-z0-9_-]*[A-Za-z0-9_])?$", label)
	violation := {
		"rule": "hostname_format",
		"message": sprintf("hostname \"%s\" labels must be non-empty and contain only letters, digits, underscores and inner hyphens", [input.hostname]),
	}
}
`,
	}
}
