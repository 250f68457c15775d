// Package script runs Starlark rule scripts as offline analyzers and
// recommenders.
//
// A rules script defines analyze(kind, product) and, optionally,
// recommend(product, analyses, limit). Products and analyses are passed as
// dicts with the same keys as their JSON encoding; results are dicts in the
// same shape as advisor.HealthAnalysis and advisor.AlternativesReport:
//
//	def analyze(kind, product):
//	    sugary = [i for i in product["ingredients"] if "sugar" in i.lower()]
//	    if kind == "disadvantages" and sugary:
//	        return {"findings": ["High added sugar content"], "health_score_impact": -3}
//	    return {"findings": [], "detailed_analysis": "Nothing notable."}
//
// Calls are bounded by a timeout and a step budget.
package script
