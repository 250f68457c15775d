package present

import (
	"fmt"
	"strings"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

const (
	// ChatMaxFindings is how many findings a chat message quotes per section.
	ChatMaxFindings = 3

	// ChatMaxAlternatives is how many alternatives a chat message lists.
	ChatMaxAlternatives = 2
)

var chatHeadings = map[string]string{
	advisor.SectionBenefits:           "✅ Key Benefits:",
	advisor.SectionDisadvantages:      "⚠️ Key Concerns:",
	advisor.SectionDiseaseAssociation: "🩺 Potential Disease Associations:",
}

// ChatMessage formats a report as a chat message using WhatsApp style
// markup: *bold*, _italic_ and bullet lines, with blank lines between parts.
func ChatMessage(report *advisor.Report) string {
	if report == nil {
		return "⚠️ *Analysis Failed*\n\nNo report was produced."
	}

	if report.Status == engine.RunStatusShortCircuited {
		return "⚠️ *Analysis Failed*\n\n" + failureReason(report)
	}

	parts := []string{fmt.Sprintf("🍎 *Health Analysis for: %s%s*", productName(report), brandSuffix(report))}

	if report.Summary != "" {
		parts = append(parts, fmt.Sprintf("\n*Overall Summary:*\n_%s_", report.Summary))
	}
	parts = append(parts, "\n"+strings.Repeat("-", 20))

	for _, name := range []string{advisor.SectionBenefits, advisor.SectionDisadvantages, advisor.SectionDiseaseAssociation} {
		section, ok := report.Section(name)
		if !ok || len(section.Findings) == 0 {
			continue
		}
		parts = append(parts, "\n*"+chatHeadings[name]+"*")
		for _, finding := range top(section.Findings, ChatMaxFindings) {
			parts = append(parts, "• "+finding)
		}
	}

	if len(report.Alternatives) > 0 {
		parts = append(parts, "\n*❤️ Healthier Alternatives:*")
		alternatives := report.Alternatives
		if len(alternatives) > ChatMaxAlternatives {
			alternatives = alternatives[:ChatMaxAlternatives]
		}
		for _, alt := range alternatives {
			parts = append(parts, fmt.Sprintf("• *%s:* _%s_", alt.ProductName, alt.Reason))
		}
	}

	return strings.Join(parts, "\n\n")
}

func failureReason(report *advisor.Report) string {
	if report.Extraction != nil && report.Extraction.ErrorMessage != "" {
		return report.Extraction.ErrorMessage
	}
	if report.Reason != "" {
		return report.Reason
	}
	return "The image could not be analyzed."
}

func productName(report *advisor.Report) string {
	if report.ProductName != "" {
		return report.ProductName
	}
	return "The Product"
}

func brandSuffix(report *advisor.Report) string {
	if report.Brand == "" {
		return ""
	}
	return " (Brand: " + report.Brand + ")"
}

func top(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
