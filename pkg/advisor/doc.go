// Package advisor assembles the health advisor pipeline on top of the
// engine: ingredient extraction gates three parallel health analyses, whose
// results feed an alternatives recommender, and a report compiler folds
// everything into a Report.
//
// External systems (vision models, search, language models) plug in through
// the Extractor, Analyzer, Recommender and Gate interfaces. RuleAnalyzer and
// RuleRecommender work offline from a keyword table.
package advisor
