package cmd

import (
	"fmt"
	"strings"

	"freightdesk/pkg/channel/whatsapp"

	"github.com/spf13/cobra"
)

const (
	testTemplateName     = "hello_world"
	testTemplateLanguage = "en_US"
)

var (
	sendTestText string
	sendTestTo   string
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send a WhatsApp test message",
	Long:  "Sends the hello_world template, or a text body with --text, to --to or the configured recipient override.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		env, err := loadEnvironment("cmd.send_test", false)
		if err != nil {
			return err
		}

		client, err := whatsapp.NewClient(env.cfg.WhatsApp, nil, nil, env.log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var result whatsapp.SendResult
		if text := strings.TrimSpace(sendTestText); text != "" {
			result, err = client.SendText(ctx, sendTestTo, text)
		} else {
			result, err = client.SendTemplate(ctx, sendTestTo, testTemplateName, testTemplateLanguage)
		}
		if err != nil {
			return err
		}

		fmt.Printf("sent %s to %s (status %d)\n", result.MessageID, result.Recipient, result.StatusCode)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendTestCmd)
	sendTestCmd.Flags().StringVar(&sendTestText, "text", "", "send this text instead of the template")
	sendTestCmd.Flags().StringVar(&sendTestTo, "to", "", "recipient phone number (default: RECIPIENT_PHONE_NUMBER)")
}
