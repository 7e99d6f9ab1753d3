package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"letterdesk/internal/distribution"
	"letterdesk/internal/email"
)

// NewDistributeCmd creates the distribute command
func NewDistributeCmd() *cobra.Command {
	var (
		skipArticleCheck bool
		preview          bool
		outputDir        string
	)

	cmd := &cobra.Command{
		Use:   "distribute <sequence-id>",
		Short: "Generate and send one issue of a sequence",
		Long: `Generate the next issue for a sequence and send it to its audience.

Articles published since the previous send are collected, Gemini writes the
newsletter content, links are wrapped with tracked short links and the
rendered issue is sent through Resend.

With --preview the issue is rendered but not sent and no short links are
stored. The HTML is written to --output (or stdout when empty).

Examples:
  letterdesk distribute 0f6c1c2e-...
  letterdesk distribute 0f6c1c2e-... --skip-article-check
  letterdesk distribute 0f6c1c2e-... --preview --output ./previews`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preview {
				return runPreview(cmd.Context(), args[0], outputDir)
			}
			return runDistribute(cmd.Context(), args[0], skipArticleCheck)
		},
	}

	cmd.Flags().BoolVar(&skipArticleCheck, "skip-article-check", false, "Send even when no new articles were found")
	cmd.Flags().BoolVar(&preview, "preview", false, "Render the issue without sending it")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the preview HTML (default stdout)")

	return cmd
}

func runDistribute(ctx context.Context, sequenceID string, skipArticleCheck bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, _ := a.orchestrator(ctx)
	res, err := orch.Run(ctx, sequenceID, distribution.RunOptions{SkipArticleCheck: skipArticleCheck})
	if err != nil {
		return fmt.Errorf("distribution failed: %w", err)
	}

	if res.Skipped {
		fmt.Println("⏭️  No new articles, nothing sent")
		return nil
	}
	fmt.Printf("✅ Sent %q to %d/%d recipients (%d failed, %d articles)\n",
		res.Subject, res.Sent, res.Recipients, res.Failed, res.Articles)
	return nil
}

func runPreview(ctx context.Context, sequenceID, outputDir string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, _ := a.orchestrator(ctx)
	p, err := orch.Preview(ctx, sequenceID)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}

	if outputDir == "" {
		_, err := fmt.Fprintln(os.Stdout, p.HTML)
		return err
	}

	filename := fmt.Sprintf("%s-%s.html", sequenceID, time.Now().Format("20060102-150405"))
	path, err := email.WriteHTMLEmail(p.HTML, outputDir, filename)
	if err != nil {
		return err
	}

	summary, _ := json.MarshalIndent(map[string]any{
		"subject":  p.Subject,
		"articles": p.Articles,
		"file":     path,
	}, "", "  ")
	fmt.Println(string(summary))
	return nil
}
