package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	agentruntime "freightdesk/pkg/agent/runtime"
	"freightdesk/pkg/ui/chat"

	"github.com/spf13/cobra"
)

var (
	promptText string
	imagePath  string
	savePath   string
	plainMode  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask a freight question or start an interactive chat",
	Long:  "Runs the identifier and the estimator locally on one question, optionally with a product photo, or starts an interactive chat.",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := resolvePrompt(args)
		image := strings.TrimSpace(imagePath)

		env, err := loadEnvironment("cmd.ask", !plainMode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		kb, err := env.openKnowledge(ctx)
		if err != nil {
			return err
		}
		defer kb.Close()

		agents, err := env.buildResponderAgents(ctx, kb)
		if err != nil {
			return err
		}
		if err := agents.Health(ctx); err != nil {
			return fmt.Errorf("provider health check failed: %w", err)
		}

		session, err := agentruntime.StartLocalSession(ctx, agents.responder(env).Handle, env.log, plainMode)
		if err != nil {
			return err
		}
		defer session.Close()

		info := chat.RuntimeInfo{
			Identifier: env.cfg.Agents.Identifier.Provider + "/" + env.cfg.Agents.Identifier.Model,
			Estimator:  env.cfg.Agents.Estimator.Provider + "/" + env.cfg.Agents.Estimator.Model,
			Knowledge:  env.cfg.Knowledge.DBPath,
		}

		switch {
		case plainMode && (prompt != "" || image != ""):
			err = runSinglePrompt(ctx, session, prompt, image)
		case plainMode:
			runInteractive(ctx, session)
		case prompt != "" || image != "":
			err = chat.RunOneShot(ctx, session.Ask, prompt, image, info)
		default:
			err = chat.RunInteractive(ctx, session.Ask, info)
		}
		if err != nil {
			return err
		}

		return saveTranscript(ctx, env, session, savePath)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
	askCmd.Flags().StringVarP(&imagePath, "image", "i", "", "product photo to identify")
	askCmd.Flags().StringVar(&savePath, "save", "", "write the conversation as Markdown to this workspace path")
	askCmd.Flags().BoolVar(&plainMode, "plain", false, "use line-based output with logs instead of the full-screen chat")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func runSinglePrompt(ctx context.Context, session *agentruntime.LocalSession, prompt string, image string) error {
	response, err := session.Ask(ctx, prompt, image)
	if err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}

	fmt.Println(response)
	return nil
}

func runInteractive(ctx context.Context, session *agentruntime.LocalSession) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("🧑 ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return
		}

		response, err := session.Ask(ctx, prompt, "")
		if err != nil {
			fmt.Printf("prompt failed: %v\n", err)
			continue
		}

		printAssistantMessage(response)
	}
}

func saveTranscript(ctx context.Context, env *environment, session *agentruntime.LocalSession, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	written, err := env.staging.WriteFile(ctx, path, []byte(session.Transcript().Markdown()))
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	env.log.Info("Transcript saved", "path", written.RelPath, "bytes", written.BytesWritten)
	return nil
}

func printAssistantMessage(message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Printf("📦 %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Println()
	}
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
