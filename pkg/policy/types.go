package policy

import (
	"time"

	"github.com/openfroyo/healthgraph/pkg/advisor"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but never block admission.
	SeverityWarning Severity = "warning"

	// SeverityError blocks admission.
	SeverityError Severity = "error"

	// SeverityCritical blocks admission.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny admission.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module producing a "deny" set.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego" validate:"required"`

	// Severity is the default severity for violations that do not carry one.
	Severity Severity `json:"severity" yaml:"severity" validate:"omitempty,oneof=info warning error critical"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the engine.
	Builtin bool `json:"builtin" yaml:"-"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"-"`

	// LoadedAt is when the policy was compiled.
	LoadedAt time.Time `json:"loaded_at" yaml:"-"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details carries any extra keys of the deny object.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Decision is the result of evaluating every enabled policy against one
// extraction.
type Decision struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations, ordered by policy name.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// Failures lists policies whose evaluation failed.
	Failures []string `json:"failures,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Reason returns the message of the first blocking violation.
func (d *Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Message
}

// Input is the document policies see as "input".
type Input struct {
	// Product is the extraction under review.
	Product *advisor.ExtractedIngredients `json:"product"`

	// Context describes the evaluation.
	Context *InputContext `json:"context"`
}

// InputContext provides context information for policy evaluation.
type InputContext struct {
	// RunID is the run being admitted, when known.
	RunID string `json:"run_id,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is always "admit" for the pipeline gate.
	Operation string `json:"operation"`
}

// Bundle is a collection of policies shipped as one file.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Version is the bundle version.
	Version string `json:"version" yaml:"version"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies" yaml:"policies" validate:"dive"`
}

// Config configures the policy engine.
type Config struct {
	// MinConfidence is the lowest extraction confidence the built-in
	// confidence policy admits. Exposed to Rego as
	// data.healthgraph.config.min_confidence. Zero selects DefaultMinConfidence.
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`

	// Paths are extra policy files or directories.
	Paths []string `mapstructure:"paths" yaml:"paths"`

	// Bundles are JSON or YAML policy bundle files, loaded after Paths.
	Bundles []string `mapstructure:"bundles" yaml:"bundles"`

	// Watch reloads policies from Paths when they change.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// Disabled names built-in policies to switch off.
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// DefaultMinConfidence is the built-in confidence threshold.
const DefaultMinConfidence = 0.3
