package advisor

import (
	"context"
	"fmt"
	"strings"
)

// Rule maps an ingredient keyword to findings per analysis kind and,
// optionally, to a healthier swap.
type Rule struct {
	// Keyword matches any ingredient containing it, case-insensitively.
	Keyword string `json:"keyword" yaml:"keyword" validate:"required"`

	// Findings holds the findings contributed per analysis kind.
	Findings map[AnalysisKind][]string `json:"findings" yaml:"findings"`

	// Impact is added to the health score impact of each kind it names.
	Impact map[AnalysisKind]float64 `json:"impact,omitempty" yaml:"impact"`

	// Swap is a healthier alternative for products containing the keyword.
	Swap *Alternative `json:"swap,omitempty" yaml:"swap"`
}

// DefaultRules is a small built-in knowledge table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Keyword: "sugar",
			Findings: map[AnalysisKind][]string{
				KindBenefits:           {"Quick source of energy"},
				KindDisadvantages:      {"High added sugar content"},
				KindDiseaseAssociation: {"Excess sugar intake is linked to type 2 diabetes"},
			},
			Impact: map[AnalysisKind]float64{KindDisadvantages: -3, KindDiseaseAssociation: -2},
			Swap: &Alternative{
				ProductName:           "Unsweetened variant",
				Reason:                "Same product without added sugar",
				Availability:          "Common supermarkets",
				NutritionalComparison: "Fewer calories, no added sugar",
			},
		},
		{
			Keyword: "salt",
			Findings: map[AnalysisKind][]string{
				KindBenefits:           {"Provides sodium, an essential electrolyte"},
				KindDisadvantages:      {"High sodium content"},
				KindDiseaseAssociation: {"High sodium intake is associated with hypertension"},
			},
			Impact: map[AnalysisKind]float64{KindDisadvantages: -2, KindDiseaseAssociation: -2},
			Swap: &Alternative{
				ProductName:  "Low-sodium variant",
				Reason:       "Reduced sodium for the same flavour profile",
				Availability: "Common supermarkets",
			},
		},
		{
			Keyword: "oat",
			Findings: map[AnalysisKind][]string{
				KindBenefits:           {"Good source of soluble fibre"},
				KindDiseaseAssociation: {"Oat beta-glucan may lower LDL cholesterol"},
			},
			Impact: map[AnalysisKind]float64{KindBenefits: 3, KindDiseaseAssociation: 1},
		},
		{
			Keyword: "palm oil",
			Findings: map[AnalysisKind][]string{
				KindDisadvantages:      {"High in saturated fat"},
				KindDiseaseAssociation: {"Saturated fat intake is linked to cardiovascular disease"},
			},
			Impact: map[AnalysisKind]float64{KindDisadvantages: -2, KindDiseaseAssociation: -1},
			Swap: &Alternative{
				ProductName: "Product made with olive or rapeseed oil",
				Reason:      "Lower saturated fat",
			},
		},
		{
			Keyword: "whole grain",
			Findings: map[AnalysisKind][]string{
				KindBenefits: {"Whole grains provide fibre and B vitamins"},
			},
			Impact: map[AnalysisKind]float64{KindBenefits: 2},
		},
	}
}

// RuleAnalyzer is an offline Analyzer backed by a keyword table.
type RuleAnalyzer struct {
	rules []Rule
}

// NewRuleAnalyzer creates an analyzer over rules. Nil rules use DefaultRules.
func NewRuleAnalyzer(rules []Rule) *RuleAnalyzer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleAnalyzer{rules: rules}
}

// Analyze implements Analyzer.
func (a *RuleAnalyzer) Analyze(ctx context.Context, kind AnalysisKind, product *ExtractedIngredients) (*HealthAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := []string{}
	var matched []string
	impact := 0.0
	for _, rule := range a.matching(product) {
		if fs := rule.Findings[kind]; len(fs) > 0 {
			findings = append(findings, fs...)
			matched = append(matched, rule.Keyword)
		}
		impact += rule.Impact[kind]
	}
	impact = max(-10, min(10, impact))

	detail := fmt.Sprintf("No notable %s found for %s.", kindNoun(kind), product.DisplayName())
	confidence := ConfidenceLow
	if len(matched) > 0 {
		detail = fmt.Sprintf("%s of %s based on: %s.",
			kind.Title(), product.DisplayName(), strings.Join(matched, ", "))
		confidence = ConfidenceMedium
	}

	return &HealthAnalysis{
		AnalysisType:      kind,
		Findings:          findings,
		DetailedAnalysis:  detail,
		ConfidenceLevel:   confidence,
		SourcesConsulted:  []string{"built-in ingredient rules"},
		HealthScoreImpact: &impact,
	}, nil
}

func (a *RuleAnalyzer) matching(product *ExtractedIngredients) []Rule {
	var out []Rule
	for _, rule := range a.rules {
		kw := strings.ToLower(rule.Keyword)
		for _, ingredient := range product.Ingredients {
			if strings.Contains(strings.ToLower(ingredient), kw) {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

func kindNoun(kind AnalysisKind) string {
	switch kind {
	case KindBenefits:
		return "benefits"
	case KindDisadvantages:
		return "concerns"
	default:
		return "disease associations"
	}
}

// RuleRecommender is an offline Recommender suggesting the swaps of the
// rules that match a product.
type RuleRecommender struct {
	analyzer *RuleAnalyzer
}

// NewRuleRecommender creates a recommender over rules. Nil rules use DefaultRules.
func NewRuleRecommender(rules []Rule) *RuleRecommender {
	return &RuleRecommender{analyzer: NewRuleAnalyzer(rules)}
}

// Recommend implements Recommender.
func (r *RuleRecommender) Recommend(ctx context.Context, req RecommendationRequest) (*AlternativesReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &AlternativesReport{Alternatives: []Alternative{}}
	for _, rule := range r.analyzer.matching(req.Product) {
		if rule.Swap == nil {
			continue
		}
		if req.Limit > 0 && len(report.Alternatives) == req.Limit {
			break
		}
		report.Alternatives = append(report.Alternatives, *rule.Swap)
	}

	if len(report.Alternatives) == 0 {
		report.Summary = fmt.Sprintf("No healthier alternatives needed for %s.", req.Product.DisplayName())
	} else {
		report.Summary = fmt.Sprintf("Alternatives address %d ingredient concern(s) in %s.",
			len(report.Alternatives), req.Product.DisplayName())
	}
	return report, nil
}
