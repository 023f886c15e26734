// Package policy evaluates provisioning specs against Open Policy Agent (Rego) policies
// before the host is touched.
//
// Every policy is a Rego module whose package defines a `deny` set of objects with `rule`
// and `message` keys. The built-in policies reject passwords unless allowed, empty or
// reserved usernames, and hostnames that are not a single RFC 1123 label. Operators can
// add policies from .rego files:
//
//	eng, err := policy.NewEngine(ctx, policy.Options{}, logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/vminit/policies"}); err != nil {
//	    return err
//	}
//	if err := eng.Check(ctx, spec); err != nil {
//	    // policy_violation or non_empty_password
//	}
//
// The input document exposes the hostname, the user's name, groups, key count and whether
// a password was supplied; the password itself is never passed to the policies.
package policy
