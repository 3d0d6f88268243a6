package cmd

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
)

const reportPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Compliance report</title></head>
<body>
%s
</body>
</html>
`

var complianceCmd = &cobra.Command{
	Use:   "compliance <description>",
	Short: "Write an import/export compliance report",
	Long:  "Runs the import/export expert and the local regulations checker on a shipment description and writes the combined HTML report to the report directory.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := strings.TrimSpace(strings.Join(args, " "))

		env, err := loadEnvironment("cmd.compliance", false)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		kb, err := env.openKnowledge(ctx)
		if err != nil {
			return err
		}
		defer kb.Close()

		reporter, err := env.buildCompliance(ctx, kb)
		if err != nil {
			return err
		}

		body, err := reporter.Report(ctx, description)
		if err != nil {
			return err
		}

		target := path.Join(env.cfg.Dispatch.ReportDir, reportFileName(description, time.Now()))
		written, err := env.staging.WriteFile(ctx, target, []byte(fmt.Sprintf(reportPage, body)))
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		fmt.Println(written.RelPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(complianceCmd)
}

// reportFileName builds "<slug>-<timestamp>.html" from the first words of
// the description.
func reportFileName(description string, now time.Time) string {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) > 5 {
		words = words[:5]
	}

	slug := strings.Join(words, "-")
	if slug == "" {
		slug = "report"
	}
	return slug + "-" + now.UTC().Format("20060102-150405") + ".html"
}
