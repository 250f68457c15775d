package policy

// BuiltinPolicies returns the admission policies shipped with the engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		validationStatusPolicy(),
		ingredientsPresentPolicy(),
		minimumConfidencePolicy(),
		allergenNoticePolicy(),
	}
}

// validationStatusPolicy denies every extraction that did not validate as a
// food product with a readable ingredients list.
func validationStatusPolicy() Policy {
	return Policy{
		Name:        "validation-status",
		Description: "Only images validated as food products with ingredients are analyzed",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"validation"},
		Rego: `package healthgraph.admission.status

import rego.v1

deny contains violation if {
	product := input.product
	product.validation_status != "valid_food_image"
	product.error_message
	violation := {
		"message": product.error_message,
		"severity": "error",
		"status": product.validation_status,
	}
}

deny contains violation if {
	product := input.product
	product.validation_status != "valid_food_image"
	not product.error_message
	violation := {
		"message": "Image validation failed.",
		"severity": "error",
		"status": product.validation_status,
	}
}
`,
	}
}

// ingredientsPresentPolicy denies valid extractions that carry no ingredients.
func ingredientsPresentPolicy() Policy {
	return Policy{
		Name:        "ingredients-present",
		Description: "Valid extractions must list at least one ingredient",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"validation", "ingredients"},
		Rego: `package healthgraph.admission.ingredients

import rego.v1

deny contains violation if {
	product := input.product
	product.validation_status == "valid_food_image"
	count(object.get(product, "ingredients", [])) == 0
	violation := {
		"message": "No ingredients were found on the product label.",
		"severity": "error",
	}
}
`,
	}
}

// minimumConfidencePolicy denies valid extractions below the configured
// confidence threshold.
func minimumConfidencePolicy() Policy {
	return Policy{
		Name:        "minimum-confidence",
		Description: "Extraction confidence must reach data.healthgraph.config.min_confidence",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"quality"},
		Rego: `package healthgraph.admission.confidence

import rego.v1

default threshold := 0

threshold := data.healthgraph.config.min_confidence

deny contains violation if {
	product := input.product
	product.validation_status == "valid_food_image"
	product.confidence_score < threshold
	violation := {
		"message": sprintf("Extraction confidence %v is below the required %v.", [product.confidence_score, threshold]),
		"severity": "error",
	}
}
`,
	}
}

// allergenNoticePolicy reports declared allergens without blocking.
func allergenNoticePolicy() Policy {
	return Policy{
		Name:        "allergen-notice",
		Description: "Reports products declaring allergens",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"allergens"},
		Rego: `package healthgraph.admission.allergens

import rego.v1

deny contains violation if {
	allergens := object.get(input.product, "allergens", [])
	count(allergens) > 0
	violation := {
		"message": sprintf("Product declares allergens: %s", [concat(", ", allergens)]),
		"severity": "warning",
	}
}
`,
	}
}
