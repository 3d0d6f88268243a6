package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	procureProducts string
	procureLocation string
)

var procureCmd = &cobra.Command{
	Use:   "procure",
	Short: "Research vendors and export offers to CSV",
	Long:  "Researches vendors for a product list near a location, prints the comparison and writes the offers to the configured CSV file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		env, err := loadEnvironment("cmd.procure", false)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		service, err := env.buildProcurement(ctx)
		if err != nil {
			return err
		}

		report, err := service.Procure(ctx, procureProducts, procureLocation)
		if err != nil {
			return err
		}

		fmt.Println(report.Markdown)
		fmt.Printf("\n%d offers written to %s\n", len(report.Rows), report.CSVPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(procureCmd)
	procureCmd.Flags().StringVar(&procureProducts, "products", "", "products to source, one per line or comma separated")
	procureCmd.Flags().StringVar(&procureLocation, "location", "", "delivery location")
	_ = procureCmd.MarkFlagRequired("products")
	_ = procureCmd.MarkFlagRequired("location")
}
