package present

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

func completeReport() *advisor.Report {
	return &advisor.Report{
		RunID:       "run-1",
		Status:      engine.RunStatusComplete,
		Summary:     "Benefits: fiber, protein. Concerns: sugar, salt.",
		ProductName: "Granola",
		Brand:       "Acme",
		Ingredients: []string{"oats", "sugar"},
		Sections: []advisor.Section{
			{Name: advisor.SectionBenefits, Status: engine.PatchStatusOK, Findings: []string{"fiber", "protein", "iron", "zinc"}, Confidence: advisor.ConfidenceHigh},
			{Name: advisor.SectionDisadvantages, Status: engine.PatchStatusOK, Findings: []string{"sugar", "salt"}},
			{Name: advisor.SectionDiseaseAssociation, Status: engine.PatchStatusOK},
			{Name: advisor.SectionAlternatives, Status: engine.PatchStatusOK, Findings: []string{"Muesli", "Oat flakes", "Bran"}},
		},
		Alternatives: []advisor.Alternative{
			{ProductName: "Muesli", Reason: "less sugar"},
			{ProductName: "Oat flakes", Reason: "no additives"},
			{ProductName: "Bran", Reason: "more fiber"},
		},
	}
}

func TestChatMessage_Complete(t *testing.T) {
	msg := ChatMessage(completeReport())

	assert.True(t, strings.HasPrefix(msg, "🍎 *Health Analysis for: Granola (Brand: Acme)*"))
	assert.Contains(t, msg, "*Overall Summary:*\n_Benefits: fiber, protein. Concerns: sugar, salt._")
	assert.Contains(t, msg, "*✅ Key Benefits:*")
	assert.Contains(t, msg, "• iron")
	assert.NotContains(t, msg, "• zinc")
	assert.Contains(t, msg, "*⚠️ Key Concerns:*")
	assert.NotContains(t, msg, "Disease Associations", "empty sections are omitted")
	assert.Contains(t, msg, "• *Muesli:* _less sugar_")
	assert.Contains(t, msg, "• *Oat flakes:* _no additives_")
	assert.NotContains(t, msg, "Bran:")
}

func TestChatMessage_ShortCircuited(t *testing.T) {
	report := &advisor.Report{
		Status: engine.RunStatusShortCircuited,
		Reason: "image is not food",
	}
	assert.Equal(t, "⚠️ *Analysis Failed*\n\nimage is not food", ChatMessage(report))

	report.Extraction = &advisor.ExtractedIngredients{ErrorMessage: "The label is unreadable."}
	assert.Equal(t, "⚠️ *Analysis Failed*\n\nThe label is unreadable.", ChatMessage(report))
}

func TestChatMessage_DefaultsAndNil(t *testing.T) {
	msg := ChatMessage(&advisor.Report{Status: engine.RunStatusDegraded})
	assert.True(t, strings.HasPrefix(msg, "🍎 *Health Analysis for: The Product*"))
	assert.NotContains(t, msg, "Overall Summary")

	assert.Contains(t, ChatMessage(nil), "Analysis Failed")
}

func TestTerminal_String(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	term.MaxFindings = 2

	out := term.String(completeReport())
	assert.Contains(t, out, "Granola (Brand: Acme)")
	assert.Contains(t, out, "[COMPLETE]")
	assert.Contains(t, out, "run run-1")
	assert.Contains(t, out, "Benefits [OK]")
	assert.Contains(t, out, "(confidence: High)")
	assert.Contains(t, out, "• protein")
	assert.NotContains(t, out, "• iron")
	assert.Contains(t, out, "Alternatives [OK]")
	assert.Contains(t, out, "• Bran: more fiber")
}

func TestTerminal_DegradedSection(t *testing.T) {
	report := completeReport()
	report.Status = engine.RunStatusDegraded
	report.Reason = "disadvantages degraded"
	report.Sections[1] = advisor.Section{
		Name:   advisor.SectionDisadvantages,
		Status: engine.PatchStatusDegraded,
		Error:  "node timed out",
	}

	var buf bytes.Buffer
	require.NoError(t, NewTerminal(&buf).Render(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "[DEGRADED]")
	assert.Contains(t, out, "Reason: disadvantages degraded")
	assert.Contains(t, out, "node timed out")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{" JSON ", FormatJSON, false},
		{"chat", FormatChat, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWrite(t *testing.T) {
	report := completeReport()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, report))
	var decoded advisor.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Alternatives, 3)

	buf.Reset()
	require.NoError(t, Write(&buf, FormatChat, report))
	assert.True(t, strings.HasPrefix(buf.String(), "🍎"))

	buf.Reset()
	require.NoError(t, Write(&buf, FormatText, report))
	assert.Contains(t, buf.String(), "[COMPLETE]")
}
