// Package config loads the agent's YAML configuration.
//
// Layers are applied over Default() in order: /etc/vminit.yaml, every *.yaml file in
// /etc/vminit.d in lexical order, then the file or directory given with --config. Each
// layer only overrides the keys it sets. The merged result is validated with struct tags.
//
//	cfg, err := config.NewLoader(logger).Load(config.DefaultPaths(flagPath))
//
// A minimal drop-in switching to the Debian tool chain:
//
//	user_provisioners: [adduser, useradd]
//	password_provisioners: [usermod]
//	imds:
//	  total_retry_timeout: 10m
package config
