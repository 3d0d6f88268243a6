package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"freightdesk/pkg/knowledge"
	"freightdesk/pkg/ocr"

	"github.com/spf13/cobra"
)

var ocrIngest bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Load Markdown documents into the knowledge base",
	Long:  "Adds every Markdown file in dir (default: the configured source directory) to the knowledge base. Unchanged documents are skipped.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment("cmd.ingest", false)
		if err != nil {
			return err
		}

		dir := env.cfg.Knowledge.SourceDir
		if len(args) == 1 {
			dir = args[0]
		}

		ctx := cmd.Context()
		kb, err := env.openKnowledge(ctx)
		if err != nil {
			return err
		}
		defer kb.Close()

		report, err := kb.IngestDir(ctx, env.staging, dir, "*.md")
		if err != nil {
			return fmt.Errorf("ingest %s: %w", dir, err)
		}

		fmt.Printf("added %d, skipped %d\n", len(report.Added), len(report.Skipped))
		for _, name := range report.Added {
			fmt.Printf("  + %s\n", name)
		}
		return nil
	},
}

var ocrCmd = &cobra.Command{
	Use:   "ocr [pdf...]",
	Short: "Convert PDF documents to Markdown",
	Long:  "Converts each PDF (default: every PDF in the configured input directory) to Markdown with Mistral OCR, optionally adding the result to the knowledge base.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment("cmd.ocr", false)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		converter, err := ocr.New(env.cfg, env.staging, nil, env.log)
		if err != nil {
			return err
		}

		paths := args
		if len(paths) == 0 {
			if paths, err = env.staging.Glob(env.cfg.OCR.InputDir, "*.pdf"); err != nil {
				return err
			}
		}
		if len(paths) == 0 {
			return fmt.Errorf("no PDF documents found in %s", env.cfg.OCR.InputDir)
		}

		var kb *knowledge.Base
		if ocrIngest {
			if kb, err = env.openKnowledge(ctx); err != nil {
				return err
			}
			defer kb.Close()
		}

		for _, path := range paths {
			result, err := converter.Convert(ctx, path)
			if err != nil {
				return fmt.Errorf("convert %s: %w", path, err)
			}
			fmt.Printf("%s -> %s (%d pages)\n", filepath.Base(result.Source), result.Output, result.Pages)

			if kb != nil {
				if err := addConverted(ctx, kb, result); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(ocrCmd)
	ocrCmd.Flags().BoolVar(&ocrIngest, "ingest", false, "add converted documents to the knowledge base")
}

func addConverted(ctx context.Context, kb *knowledge.Base, result ocr.Result) error {
	if strings.TrimSpace(result.Markdown) == "" {
		return nil
	}
	if _, _, err := kb.AddDocument(ctx, filepath.Base(result.Output), "text/markdown", result.Markdown); err != nil {
		return fmt.Errorf("ingest %s: %w", result.Output, err)
	}
	return nil
}
