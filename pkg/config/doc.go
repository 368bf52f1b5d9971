/*
Package config loads and validates Bastion's YAML configuration.

Configuration is defaults-first: Default() returns a fully usable
config, and Load() overlays a YAML file on top of it. Only values the
operator sets in the file differ from the defaults, so a minimal
production config is just the signing secret and data directory:

	dataDir: /var/lib/bastion
	webhook:
	  signingSecret: "..."

Durations use Go syntax ("30s", "5m"). Validate() rejects configs that
would make the service unsafe to run, such as a missing signing secret
or a non-positive role TTL.
*/
package config
