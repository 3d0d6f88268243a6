// Package procurement researches vendors for a product list, asks an analyst
// agent to structure the findings, and exports them as CSV.
package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	agentprofile "freightdesk/pkg/agent/profile"
	"freightdesk/pkg/fault"
	providertypes "freightdesk/pkg/provider/types"
	"freightdesk/pkg/workspace"
)

const defaultCSVPath = "data.csv"

// Runner is one agent role.
type Runner interface {
	Run(ctx context.Context, prompt string, images ...providertypes.Image) (providertypes.PromptResult, error)
}

// Row is one vendor offer for one product.
type Row struct {
	ProductName          string `json:"product_name"`
	VendorName           string `json:"vendor_name"`
	ProductTitle         string `json:"product_title"`
	Price                string `json:"price"`
	Currency             string `json:"currency"`
	BulkDiscounts        string `json:"bulk_discounts"`
	VendorWebsite        string `json:"vendor_website"`
	Description          string `json:"description"`
	MinimumOrderQuantity string `json:"minimum_order_quantity"`
	ShippingTime         string `json:"shipping_time"`
}

type analysis struct {
	Rows    []Row  `json:"rows"`
	Summary string `json:"summary"`
}

// Report is the outcome of one procurement run.
type Report struct {
	Markdown string
	Rows     []Row
	CSVPath  string
}

type Service struct {
	research Runner
	analyst  Runner
	staging  *workspace.Staging
	csvPath  string
	log      *slog.Logger
}

func NewService(research Runner, analyst Runner, staging *workspace.Staging, csvPath string, log *slog.Logger) *Service {
	csvPath = strings.TrimSpace(csvPath)
	if csvPath == "" {
		csvPath = defaultCSVPath
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		research: research,
		analyst:  analyst,
		staging:  staging,
		csvPath:  csvPath,
		log:      log.With("component", "procurement"),
	}
}

// Procure runs research and analysis for a comma separated product list
// delivered to location, then replaces the CSV export with the new rows.
func (s *Service) Procure(ctx context.Context, products string, location string) (Report, error) {
	products = strings.TrimSpace(products)
	location = strings.TrimSpace(location)
	if products == "" || location == "" {
		return Report{}, fault.New(fault.Validation, "product_list and location are required")
	}

	start := time.Now()
	prompt, err := agentprofile.Render(agentprofile.ProcurementResearch, map[string]string{
		"Products": products,
		"Location": location,
	})
	if err != nil {
		return Report{}, fault.Wrap(fault.Internal, "render research prompt", err)
	}

	research, err := s.research.Run(ctx, prompt)
	if err != nil {
		return Report{}, err
	}
	s.log.Debug("Vendor research completed", "length", len(research.Text))

	analyzed, err := s.analyst.Run(ctx, research.Text)
	if err != nil {
		return Report{}, err
	}

	result, err := parseAnalysis(analyzed.Text)
	if err != nil {
		return Report{}, fault.Wrap(fault.AgentInvocation, "procurement_analyst", err)
	}

	data, err := EncodeCSV(result.Rows)
	if err != nil {
		return Report{}, fault.Wrap(fault.Internal, "encode csv", err)
	}
	written, err := s.staging.WriteFile(ctx, s.csvPath, data)
	if err != nil {
		return Report{}, fmt.Errorf("write %s: %w", s.csvPath, err)
	}

	markdown := strings.TrimSpace(result.Summary)
	if table := MarkdownTable(result.Rows); table != "" {
		if markdown != "" {
			markdown += "\n\n"
		}
		markdown += table
	}

	s.log.Info("Procurement completed",
		"rows", len(result.Rows),
		"csv", written.RelPath,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Report{Markdown: markdown, Rows: result.Rows, CSVPath: written.RelPath}, nil
}

// CSV returns the current export, reporting false when none exists.
func (s *Service) CSV(ctx context.Context) ([]byte, bool, error) {
	if !s.staging.Exists(s.csvPath) {
		return nil, false, nil
	}
	data, err := s.staging.ReadFile(ctx, s.csvPath)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// parseAnalysis accepts the analyst JSON with or without a code fence and
// with stray text around the object.
func parseAnalysis(text string) (analysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx < 0 || endIdx < startIdx {
		return analysis{}, fmt.Errorf("analyst reply has no JSON object")
	}

	var result analysis
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &result); err != nil {
		return analysis{}, fmt.Errorf("decode analyst reply: %w", err)
	}

	rows := result.Rows[:0]
	for _, row := range result.Rows {
		if row.isEmpty() {
			continue
		}
		rows = append(rows, row.trimmed())
	}
	result.Rows = rows

	return result, nil
}

func (r Row) isEmpty() bool {
	return r.trimmed() == Row{}
}

func (r Row) trimmed() Row {
	return Row{
		ProductName:          strings.TrimSpace(r.ProductName),
		VendorName:           strings.TrimSpace(r.VendorName),
		ProductTitle:         strings.TrimSpace(r.ProductTitle),
		Price:                strings.TrimSpace(r.Price),
		Currency:             strings.TrimSpace(r.Currency),
		BulkDiscounts:        strings.TrimSpace(r.BulkDiscounts),
		VendorWebsite:        strings.TrimSpace(r.VendorWebsite),
		Description:          strings.TrimSpace(r.Description),
		MinimumOrderQuantity: strings.TrimSpace(r.MinimumOrderQuantity),
		ShippingTime:         strings.TrimSpace(r.ShippingTime),
	}
}
