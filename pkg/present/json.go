package present

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/healthgraph/pkg/advisor"
)

// Format selects a renderer.
type Format string

const (
	FormatText Format = "text"
	FormatChat Format = "chat"
	FormatJSON Format = "json"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatChat, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, chat or json)", s)
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *advisor.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Write renders the report to w in the given format.
func Write(w io.Writer, format Format, report *advisor.Report) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatChat:
		_, err := io.WriteString(w, ChatMessage(report)+"\n")
		return err
	default:
		return NewTerminal(w).Render(w, report)
	}
}
