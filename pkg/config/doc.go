// Package config loads the healthgraph application configuration.
//
// Configuration is layered: built-in defaults, then a YAML file, then
// environment variables prefixed with HEALTHGRAPH_ where dots become
// underscores (HEALTHGRAPH_ENGINE_DEADLINE=30s, HEALTHGRAPH_CACHE_ENABLED=true).
// The merged result is validated before use.
//
//	engine:
//	  deadline: 60s
//	  node_timeout: 30s
//	  terminal_grace: 5s
//	  max_findings: 2
//	  max_alternatives: 3
//	store:
//	  enabled: true
//	  path: healthgraph.db
//	cache:
//	  enabled: true
//	  addr: localhost:6379
//	  ttl: 24h
//	policy:
//	  min_confidence: 0.5
//	  paths: [policies/]
//	  bundles: [policies/strict.yaml]
//	  watch: true
//	capabilities:
//	  manifest: capabilities.yaml
package config
