package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint: srv.URL + "/",
		Timeout:  time.Second,
		Headers:  map[string]string{"Authorization": "Bearer test"},
	}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestExtractor_Extract(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathExtract, r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req advisor.ExtractionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/images/bar.jpg", req.ImagePath)

		writeJSON(w, http.StatusOK, advisor.ExtractedIngredients{
			Status:          advisor.StatusValidFoodImage,
			ProductName:     "Oat Bar",
			Ingredients:     []string{"oats", "sugar"},
			ConfidenceScore: 0.92,
		})
	})

	product, err := NewExtractor(c).Extract(context.Background(), advisor.ExtractionRequest{ImagePath: "/images/bar.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Oat Bar", product.ProductName)
	assert.Equal(t, []string{"oats", "sugar"}, product.Ingredients)
	assert.InDelta(t, 0.92, product.ConfidenceScore, 0.0001)
}

func TestAnalyzer_Analyze(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAnalyze+"disadvantages", r.URL.Path)

		var req AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, advisor.KindDisadvantages, req.Kind)

		writeJSON(w, http.StatusOK, advisor.HealthAnalysis{
			AnalysisType:     advisor.KindDisadvantages,
			Findings:         []string{"High added sugar content"},
			DetailedAnalysis: "Contains sugar.",
			ConfidenceLevel:  advisor.ConfidenceHigh,
		})
	})

	analysis, err := NewAnalyzer(c).Analyze(context.Background(), advisor.KindDisadvantages,
		&advisor.ExtractedIngredients{Status: advisor.StatusValidFoodImage, Ingredients: []string{"sugar"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"High added sugar content"}, analysis.Findings)
	assert.Equal(t, advisor.ConfidenceHigh, analysis.ConfidenceLevel)
}

func TestRecommender_Recommend(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathRecommend, r.URL.Path)

		var req advisor.RecommendationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Limit)

		writeJSON(w, http.StatusOK, advisor.AlternativesReport{
			Alternatives: []advisor.Alternative{{ProductName: "Plain oats", Reason: "No added sugar"}},
			Summary:      "One swap.",
		})
	})

	report, err := NewRecommender(c).Recommend(context.Background(), advisor.RecommendationRequest{
		Product: &advisor.ExtractedIngredients{Status: advisor.StatusValidFoodImage},
		Limit:   3,
	})
	require.NoError(t, err)
	require.Len(t, report.Alternatives, 1)
	assert.Equal(t, "Plain oats", report.Alternatives[0].ProductName)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantClass engine.ErrorClass
		wantCode  string
		wantMsg   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, wantClass: engine.ErrorClassTransient, wantCode: engine.ErrCodeRateLimited, wantMsg: "slow down"},
		{name: "server error", status: http.StatusBadGateway, body: "upstream broke", wantClass: engine.ErrorClassTransient, wantMsg: "upstream broke"},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, wantClass: engine.ErrorClassTimeout, wantMsg: "Gateway Timeout"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"no image"}`, wantClass: engine.ErrorClassPermanent, wantCode: engine.ErrCodeTaskFailed, wantMsg: "no image"},
		{name: "invalid json", status: http.StatusOK, body: "not json", wantClass: engine.ErrorClassPermanent, wantCode: engine.ErrCodeContractViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			var out map[string]any
			err := c.Post(context.Background(), "/x", map[string]string{}, &out)
			require.Error(t, err)

			e := engine.AsEngineError(err)
			require.NotNil(t, e)
			assert.Equal(t, tt.wantClass, e.Class)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, e.Code)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, e.Error(), tt.wantMsg)
			}
		})
	}
}

func TestClient_TransportFailures(t *testing.T) {
	t.Run("connection refused is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		c, err := NewClient(Config{Endpoint: srv.URL}, zerolog.Nop())
		require.NoError(t, err)

		var out map[string]any
		err = c.Post(context.Background(), "/x", nil, &out)
		require.Error(t, err)
		assert.True(t, engine.IsTransient(err))
	})

	t.Run("client timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		c, err := NewClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, zerolog.Nop())
		require.NoError(t, err)

		var out map[string]any
		err = c.Post(context.Background(), "/x", nil, &out)
		require.Error(t, err)
		assert.True(t, engine.IsTimeout(err))
	})

	t.Run("context cancellation is returned as is", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{})
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var out map[string]any
		err := c.Post(ctx, "/x", nil, &out)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{}, zerolog.Nop())
	assert.Error(t, err)
}
