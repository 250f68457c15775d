package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Analyzer caches the analyses of another advisor.Analyzer. Products with
// the same ingredients, allergens and nutrition facts share entries. Cache
// failures are logged and the wrapped analyzer is called instead.
type Analyzer struct {
	next    advisor.Analyzer
	cache   Cache
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewAnalyzer wraps next with cache. metrics may be nil.
func NewAnalyzer(next advisor.Analyzer, cache Cache, metrics *telemetry.Metrics, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		next:    next,
		cache:   cache,
		metrics: metrics,
		logger:  logger.With().Str("component", "analysis-cache").Logger(),
	}
}

// Analyze implements advisor.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, kind advisor.AnalysisKind, product *advisor.ExtractedIngredients) (*advisor.HealthAnalysis, error) {
	key, err := AnalysisKey(kind, product)
	if err != nil {
		return a.next.Analyze(ctx, kind, product)
	}

	var cached advisor.HealthAnalysis
	hit, err := a.cache.Get(ctx, key, &cached)
	if err != nil {
		a.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Cache lookup failed")
	}
	a.metrics.RecordCacheLookup(hit)
	if hit && cached.AnalysisType == kind {
		a.logger.Debug().Str("kind", string(kind)).Str("key", key).Msg("Analysis served from cache")
		return &cached, nil
	}

	analysis, err := a.next.Analyze(ctx, kind, product)
	if err != nil || analysis == nil {
		return analysis, err
	}

	if err := a.cache.Set(ctx, key, analysis); err != nil {
		a.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Cache write failed")
	}
	return analysis, nil
}

type fingerprint struct {
	Kind        advisor.AnalysisKind     `json:"kind"`
	Ingredients []string                 `json:"ingredients"`
	Allergens   []string                 `json:"allergens"`
	Nutrition   *advisor.NutritionalInfo `json:"nutrition,omitempty"`
}

// AnalysisKey returns the cache key of an analysis. Ingredient order and
// case do not change the key.
func AnalysisKey(kind advisor.AnalysisKind, product *advisor.ExtractedIngredients) (string, error) {
	fp := fingerprint{Kind: kind}
	if product != nil {
		fp.Ingredients = normalized(product.Ingredients)
		fp.Allergens = normalized(product.Allergens)
		fp.Nutrition = product.NutritionalInfo
	}

	data, err := json.Marshal(fp)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "analysis:" + string(kind) + ":" + hex.EncodeToString(sum[:]), nil
}

func normalized(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.ToLower(strings.TrimSpace(item)); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
