package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

// Terminal renders reports as styled text. Colors are dropped when the
// output is not a terminal.
type Terminal struct {
	// MaxFindings caps findings per section. Zero shows all.
	MaxFindings int

	// Detail includes each section's long-form text.
	Detail bool

	titleStyle   lipgloss.Style
	headingStyle lipgloss.Style
	textStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
	boxStyle     lipgloss.Style
	badges       map[string]lipgloss.Style
}

// NewTerminal creates a renderer styled for w.
func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		titleStyle:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		headingStyle: r.NewStyle().Bold(true),
		textStyle:    r.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		mutedStyle:   r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
		boxStyle:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		badges: map[string]lipgloss.Style{
			string(engine.RunStatusComplete):       r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
			string(engine.PatchStatusOK):           r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
			string(engine.RunStatusDegraded):       r.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
			string(engine.RunStatusShortCircuited): r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
			string(engine.PatchStatusSkipped):      r.NewStyle().Foreground(lipgloss.Color("#999999")),
		},
	}
}

// Render writes the report to w.
func (t *Terminal) Render(w io.Writer, report *advisor.Report) error {
	_, err := io.WriteString(w, t.String(report)+"\n")
	return err
}

// String renders the report.
func (t *Terminal) String(report *advisor.Report) string {
	if report == nil {
		return t.badge(string(engine.RunStatusDegraded)) + " no report"
	}

	var header []string
	header = append(header,
		t.titleStyle.Render(productName(report)+brandSuffix(report))+"  "+t.badge(string(report.Status)))
	if report.RunID != "" {
		header = append(header, t.mutedStyle.Render("run "+report.RunID))
	}
	if report.Summary != "" {
		header = append(header, "", t.textStyle.Render(report.Summary))
	}
	if report.Reason != "" && report.Status != engine.RunStatusComplete {
		header = append(header, t.mutedStyle.Render("Reason: "+report.Reason))
	}

	blocks := []string{t.boxStyle.Render(strings.Join(header, "\n"))}
	for _, section := range report.Sections {
		blocks = append(blocks, t.section(report, section))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (t *Terminal) section(report *advisor.Report, section advisor.Section) string {
	title := advisor.AnalysisKind(section.Name).Title()
	if section.Name == advisor.SectionAlternatives {
		title = "Alternatives"
	}

	heading := t.headingStyle.Render(title) + " " + t.badge(string(section.Status))
	if section.Confidence != "" {
		heading += t.mutedStyle.Render(fmt.Sprintf(" (confidence: %s)", section.Confidence))
	}
	lines := []string{"", heading}

	if section.Error != "" {
		lines = append(lines, t.mutedStyle.Render("  "+section.Error))
	}

	if section.Name == advisor.SectionAlternatives {
		for _, alt := range report.Alternatives {
			lines = append(lines, t.textStyle.Render(fmt.Sprintf("  • %s: %s", alt.ProductName, alt.Reason)))
		}
	} else {
		findings := section.Findings
		if t.MaxFindings > 0 {
			findings = top(findings, t.MaxFindings)
		}
		for _, f := range findings {
			lines = append(lines, t.textStyle.Render("  • "+f))
		}
	}

	if t.Detail && section.Detail != "" {
		lines = append(lines, t.mutedStyle.Render("  "+section.Detail))
	}
	return strings.Join(lines, "\n")
}

func (t *Terminal) badge(status string) string {
	style, ok := t.badges[status]
	if !ok {
		style = t.mutedStyle
	}
	return style.Render("[" + strings.ToUpper(status) + "]")
}
