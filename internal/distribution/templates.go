package distribution

import (
	"context"

	"letterdesk/internal/core"
	"letterdesk/internal/email"
	"letterdesk/internal/persistence"
)

// SeededTemplateName names the built-in template stored by SeedDefaultTemplate.
const SeededTemplateName = "Default newsletter"

// SeedDefaultTemplate stores the built-in template as the default. When a
// template with the seeded name exists it is returned with created=false.
func SeedDefaultTemplate(ctx context.Context, repo persistence.TemplateRepository, theme *email.Theme) (tpl *core.NewsletterTemplate, created bool, err error) {
	tpls, err := repo.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range tpls {
		if tpls[i].Name == SeededTemplateName {
			return &tpls[i], false, nil
		}
	}

	tpl = &core.NewsletterTemplate{
		Name:          SeededTemplateName,
		HTML:          email.DefaultTemplateHTML(theme),
		IsDefault:     true,
		IncludeFooter: true,
	}
	if err := repo.Create(ctx, tpl); err != nil {
		return nil, false, err
	}
	return tpl, true, nil
}
