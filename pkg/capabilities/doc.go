// Package capabilities is the static registry of pipeline collaborators.
//
// A YAML manifest names the extractor, analyzers and recommender the health
// advisor uses and how each is implemented (seed, rules, script or http).
// The registry is validated and resolved once, before the graph is built;
// the resolved collaborators are injected into the task factories.
//
//	version: "1"
//	capabilities:
//	  - name: vision
//	    role: extractor
//	    driver: http
//	    endpoint: http://vision.internal:8080
//	    timeout: 20s
//	  - name: rules
//	    role: analyzer
//	    driver: script
//	    script: rules.star
//	    cache: true
//	  - name: swaps
//	    role: recommender
//	    driver: rules
package capabilities
