package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"letterdesk/internal/distribution"
	"letterdesk/internal/email"
)

// NewTemplateCmd creates the template command
func NewTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage newsletter templates",
	}

	var theme string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in default template",
		Long: `Create the built-in newsletter template and mark it as the default.
Does nothing when it already exists.

Themes: default, newsletter`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateSeed(cmd.Context(), theme)
		},
	}
	seed.Flags().StringVar(&theme, "theme", "default", "Email theme for the template styles")

	cmd.AddCommand(seed)
	return cmd
}

func runTemplateSeed(ctx context.Context, theme string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tpl, created, err := distribution.SeedDefaultTemplate(ctx, a.db.Templates(), email.GetTheme(theme))
	if err != nil {
		return fmt.Errorf("failed to seed template: %w", err)
	}
	if !created {
		fmt.Printf("Template %q already exists (%s)\n", tpl.Name, tpl.ID)
		return nil
	}
	fmt.Printf("✅ Created template %q (%s)\n", tpl.Name, tpl.ID)
	return nil
}
