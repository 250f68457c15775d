package advisor

import (
	"context"
	"fmt"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// ExtractionTask is the entry node. It extracts the product's ingredients and
// decides, through its Gate, whether the rest of the pipeline should run.
type ExtractionTask struct {
	extractor Extractor
	gate      Gate
}

// NewExtractionTask creates the entry task. A nil gate admits only valid
// extractions.
func NewExtractionTask(extractor Extractor, gate Gate) *ExtractionTask {
	if gate == nil {
		gate = StatusGate{}
	}
	return &ExtractionTask{extractor: extractor, gate: gate}
}

// Execute implements engine.Task.
func (t *ExtractionTask) Execute(ctx context.Context, in engine.View) (*engine.Output, error) {
	logger := telemetry.FromContext(ctx)

	req := ExtractionRequest{}
	req.ImagePath, _ = ImagePath.Get(in)
	if valid, ok := ImageValid.Get(in); ok {
		req.ImageValid = &valid
	}
	req.Ingredients, _ = Ingredients.Get(in)

	out := engine.NewOutput()

	product, err := t.extractor.Extract(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithError(err).Warn("Ingredient extraction failed")
		product = extractionFailure(err.Error())
	} else if product == nil {
		product = extractionFailure("extractor returned no data")
	} else {
		product.Normalize()
		if verr := product.Validate(); verr != nil {
			product = extractionFailure(fmt.Sprintf("invalid extraction: %v", verr))
		}
	}
	Extraction.Set(out, product)

	if product.Status == StatusError {
		engine.Halt(out, product.ErrorMessage)
		return out, nil
	}

	admission, err := t.gate.Admit(ctx, product)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithError(err).Warn("Admission gate failed, falling back to validation status")
		admission, _ = StatusGate{}.Admit(ctx, product)
	}

	if !admission.Allowed {
		reason := admission.Reason
		if reason == "" {
			reason = "Image validation failed."
		}
		logger.WithField("reason", reason).Info("Processing halted by admission gate")
		engine.Halt(out, reason)
		return out, nil
	}

	engine.Continue(out)
	return out, nil
}

func extractionFailure(message string) *ExtractedIngredients {
	notFood := false
	product := &ExtractedIngredients{
		Status:          StatusError,
		IsFoodProduct:   &notFood,
		ConfidenceScore: 0,
		ErrorMessage:    message,
	}
	product.Normalize()
	return product
}

// SeedExtractor builds the extraction from values supplied with the request.
// When the request carries no validation verdict it delegates to Next.
type SeedExtractor struct {
	Next Extractor
}

// Extract implements Extractor.
func (s SeedExtractor) Extract(ctx context.Context, req ExtractionRequest) (*ExtractedIngredients, error) {
	if req.ImageValid == nil {
		if s.Next == nil {
			return nil, fmt.Errorf("no extractor configured for image %q", req.ImagePath)
		}
		return s.Next.Extract(ctx, req)
	}

	if !*req.ImageValid {
		notFood := false
		return &ExtractedIngredients{
			Status:        StatusInvalidNotFood,
			IsFoodProduct: &notFood,
			ErrorMessage:  "Image validation failed.",
		}, nil
	}

	isFood := true
	hasList := len(req.Ingredients) > 0
	product := &ExtractedIngredients{
		Status:             StatusValidFoodImage,
		IsFoodProduct:      &isFood,
		HasIngredientsList: &hasList,
		Ingredients:        append([]string(nil), req.Ingredients...),
		ConfidenceScore:    1,
	}
	if !hasList {
		product.Status = StatusInvalidNoIngredients
		product.ErrorMessage = "No ingredients list was supplied."
	}
	return product, nil
}
