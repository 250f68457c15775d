// Package policy provides Open Policy Agent (OPA) admission control for the
// health advisor pipeline.
//
// The Engine implements advisor.Gate: after ingredient extraction, the entry
// node asks it whether the product should be analyzed. Every enabled policy
// is a Rego module producing a "deny" set; a blocking violation (severity
// error or critical) halts the pipeline and its message becomes the run's
// halt reason.
//
// # Usage
//
//	eng, err := policy.NewEngine(ctx, policy.Config{}, logger, events)
//	if err != nil {
//	    return err
//	}
//	deps := advisor.Dependencies{Gate: eng, ...}
//
// # Built-in Policies
//
//  1. validation-status - The image must validate as a food product
//  2. ingredients-present - Valid extractions must list ingredients
//  3. minimum-confidence - Extraction confidence must reach min_confidence
//  4. allergen-notice - Declared allergens are reported as a warning
//
// # Custom Policies
//
// Custom policies are loaded from .rego files, or from JSON and YAML files
// holding one policy or a bundle:
//
//	package custom.admission.sweeteners
//
//	import rego.v1
//
//	deny contains violation if {
//	    some ingredient in input.product.ingredients
//	    contains(lower(ingredient), "aspartame")
//	    violation := {
//	        "message": "Products with aspartame are not analyzed",
//	        "severity": "error",
//	    }
//	}
//
// The input document carries the extraction as input.product and run
// metadata as input.context. Engine configuration is available under
// data.healthgraph.config.
//
// # Hot Reload
//
// With Config.Watch set, Engine.Watch reloads the custom policies whenever
// files under Config.Paths change. A reload that fails to compile leaves the
// previous policies in place.
package policy
