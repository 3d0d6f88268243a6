package agent

import (
	"context"
	"strings"

	"freightdesk/pkg/fault"
	"freightdesk/pkg/knowledge"
)

// ReportSeparator joins the sections of a compliance report.
const ReportSeparator = "<hr>"

// KnowledgeSearcher grounds prompts on the local knowledge base.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Result, error)
}

// ComplianceReporter produces an HTML report from the import/export expert
// followed by the local regulations checker.
type ComplianceReporter struct {
	export *Agent
	local  *Agent
	kb     KnowledgeSearcher
}

// NewComplianceReporter builds a reporter. kb may be nil.
func NewComplianceReporter(export *Agent, local *Agent, kb KnowledgeSearcher) *ComplianceReporter {
	return &ComplianceReporter{export: export, local: local, kb: kb}
}

// Report runs both agents on the shipment description and returns the
// combined HTML.
func (r *ComplianceReporter) Report(ctx context.Context, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", fault.New(fault.Validation, "shipment description is required")
	}

	exportPrompt := description
	if r.kb != nil {
		results, err := r.kb.Search(ctx, description, 0)
		if err != nil {
			return "", fault.Wrap(fault.Internal, "knowledge search", err)
		}
		if kc := knowledge.BuildContext(results); kc != "" {
			exportPrompt = description + "\n\n" + kc
		}
	}

	exportReport, err := r.export.Run(ctx, exportPrompt)
	if err != nil {
		return "", err
	}
	localReport, err := r.local.Run(ctx, description)
	if err != nil {
		return "", err
	}

	return CleanHTML(exportReport.Text) + ReportSeparator + CleanHTML(localReport.Text), nil
}

// CleanHTML strips Markdown code fences and any preamble before the first <h1>.
func CleanHTML(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "```html"); ok {
		text = rest
	} else if rest, ok := strings.CutPrefix(text, "```"); ok {
		text = rest
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))

	if i := strings.Index(strings.ToLower(text), "<h1"); i > 0 {
		text = text[i:]
	}

	return text
}
