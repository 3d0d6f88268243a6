// Package ocr converts PDF documents to Markdown with the Mistral OCR API.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	provideropenai "freightdesk/pkg/provider/openai"
	"freightdesk/pkg/workspace"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel     = "mistral-ocr-latest"
	defaultOutputDir = "Markdown"
	purposeOCR       = osdk.FilePurpose("ocr")
)

type signedURL struct {
	URL string `json:"url"`
}

type documentURL struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type processRequest struct {
	Model    string      `json:"model"`
	Document documentURL `json:"document"`
}

type page struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type processResponse struct {
	Pages []page `json:"pages"`
}

// Result describes one converted document.
type Result struct {
	Source   string
	Output   string
	Pages    int
	Markdown string
}

type Converter struct {
	client    osdk.Client
	model     string
	outputDir string
	timeout   time.Duration
	staging   *workspace.Staging
	log       *slog.Logger
}

// New builds a converter over the Mistral provider settings. httpClient may
// be nil.
func New(cfg *config.Config, staging *workspace.Staging, httpClient *http.Client, log *slog.Logger) (*Converter, error) {
	opts, err := provideropenai.RequestOptions("mistral", cfg.Providers.Mistral, httpClient)
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, "ocr", err)
	}
	if staging == nil {
		return nil, fault.New(fault.Configuration, "ocr requires a staging area")
	}
	if log == nil {
		log = slog.Default()
	}

	model := strings.TrimSpace(cfg.OCR.Model)
	if model == "" {
		model = defaultModel
	}
	outputDir := strings.TrimSpace(cfg.OCR.OutputDir)
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	return &Converter{
		client:    osdk.NewClient(opts...),
		model:     model,
		outputDir: outputDir,
		timeout:   time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
		staging:   staging,
		log:       log.With("component", "ocr"),
	}, nil
}

// Convert uploads the PDF at path, runs OCR on it and writes the pages,
// joined by newlines, to <output dir>/<base name>.md.
func (c *Converter) Convert(ctx context.Context, path string) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, fault.New(fault.Validation, "pdf path is required")
	}
	data, err := c.staging.ReadFile(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}

	fileName := filepath.Base(path)
	log := c.log.With("file", fileName)
	startedAt := time.Now()

	uploaded, err := c.client.Files.New(ctx, osdk.FileNewParams{
		File:    osdk.File(bytes.NewReader(data), fileName, "application/pdf"),
		Purpose: purposeOCR,
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", fileName, err)
	}
	log.Debug("Document uploaded", "file_id", uploaded.ID, "bytes", len(data))

	var signed signedURL
	if err := c.client.Get(ctx, "files/"+uploaded.ID+"/url", nil, &signed, option.WithQuery("expiry", "24")); err != nil {
		return Result{}, fmt.Errorf("signed url for %s: %w", uploaded.ID, err)
	}
	if signed.URL == "" {
		return Result{}, errors.New("signed url response has no url")
	}

	var processed processResponse
	err = c.client.Post(ctx, "ocr", processRequest{
		Model:    c.model,
		Document: documentURL{Type: "document_url", DocumentURL: signed.URL},
	}, &processed)
	if err != nil {
		return Result{}, fmt.Errorf("ocr %s: %w", fileName, err)
	}

	markdown := joinPages(processed.Pages)
	output := filepath.Join(c.outputDir, strings.TrimSuffix(fileName, filepath.Ext(fileName))+".md")
	written, err := c.staging.WriteFile(ctx, output, []byte(markdown))
	if err != nil {
		return Result{}, fmt.Errorf("write %s: %w", output, err)
	}

	log.Info("Markdown saved",
		"output", written.RelPath,
		"pages", len(processed.Pages),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	return Result{
		Source:   path,
		Output:   written.RelPath,
		Pages:    len(processed.Pages),
		Markdown: markdown,
	}, nil
}

// joinPages concatenates page markdown in the order the service returned it.
func joinPages(pages []page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Markdown)
	}
	return strings.Join(parts, "\n")
}
