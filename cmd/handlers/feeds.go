package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"letterdesk/internal/core"
	"letterdesk/internal/persistence"
)

// feedEntry is one feed in an import file.
type feedEntry struct {
	URL      string `yaml:"url"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Active   *bool  `yaml:"active"`
}

type feedFile struct {
	Feeds []feedEntry `yaml:"feeds"`
}

type importReport struct {
	Created int
	Updated int
}

// NewFeedsCmd creates the feeds command
func NewFeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage ingestion feeds",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List feeds and their fetch health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedsList(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add or update feeds from a YAML file",
		Long: `Import feeds from a YAML file. Both a top-level list and a "feeds" key
are accepted:

  feeds:
    - url: https://example.com/rss
      title: Example
      category: engineering
    - url: https://blog.example.org/atom.xml
      active: false

Existing feeds, matched by URL, get their title, category and active flag
updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedsImport(cmd.Context(), args[0])
		},
	})

	return cmd
}

func runFeedsList(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	feeds, err := a.db.Feeds().List(ctx, persistence.ListOptions{SortBy: "created_at", Order: "asc"})
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		fmt.Println("No feeds configured")
		return nil
	}
	for _, f := range feeds {
		state := "active"
		if !f.Active {
			state = "paused"
		}
		last := "never"
		if f.LastFetched != nil {
			last = f.LastFetched.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-7s %-16s errors=%d  %s\n", state, last, f.ErrorCount, f.URL)
	}
	return nil
}

func runFeedsImport(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	entries, err := parseFeedList(data)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := importFeeds(ctx, a.db.Feeds(), entries)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %d feeds created, %d updated\n", report.Created, report.Updated)
	return nil
}

// parseFeedList accepts either a bare YAML list or a document with a feeds key.
func parseFeedList(data []byte) ([]feedEntry, error) {
	var entries []feedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		var doc feedFile
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("invalid feed file: %w", err2)
		}
		entries = doc.Feeds
	}

	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for i, e := range entries {
		e.URL = strings.TrimSpace(e.URL)
		u, err := url.Parse(e.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("feed %d: invalid url %q", i+1, e.URL)
		}
		if seen[e.URL] {
			continue
		}
		seen[e.URL] = true
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, errors.New("feed file contains no feeds")
	}
	return out, nil
}

func importFeeds(ctx context.Context, repo persistence.FeedRepository, entries []feedEntry) (importReport, error) {
	var report importReport
	for _, e := range entries {
		active := e.Active == nil || *e.Active

		existing, err := repo.GetByURL(ctx, e.URL)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			feed := &core.Feed{URL: e.URL, Title: e.Title, Category: e.Category, Active: active}
			if err := repo.Create(ctx, feed); err != nil {
				return report, fmt.Errorf("failed to create feed %s: %w", e.URL, err)
			}
			report.Created++
		case err != nil:
			return report, err
		default:
			if e.Title != "" {
				existing.Title = e.Title
			}
			if e.Category != "" {
				existing.Category = e.Category
			}
			existing.Active = active
			if err := repo.Update(ctx, existing); err != nil {
				return report, fmt.Errorf("failed to update feed %s: %w", e.URL, err)
			}
			report.Updated++
		}
	}
	return report, nil
}
