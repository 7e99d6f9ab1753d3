package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdesk/internal/config"
	"letterdesk/internal/core"
)

func TestFieldCacheTTLAndInvalidate(t *testing.T) {
	var loads int32
	fc := NewFieldCache(time.Minute, func(ctx context.Context, baseID, table string) (map[string]Field, error) {
		atomic.AddInt32(&loads, 1)
		return map[string]Field{"Title": {Name: "Title"}}, nil
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := fc.Get(ctx, "app1", "Articles")
	require.NoError(t, err)
	_, err = fc.Get(ctx, "app1", "Articles")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&loads), "second read should hit the cache")

	_, err = fc.Get(ctx, "app2", "Articles")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&loads), "cache is keyed per base")

	now = now.Add(2 * time.Minute)
	_, err = fc.Get(ctx, "app1", "Articles")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&loads), "expired entry reloads")

	fc.Invalidate("app1", "Articles")
	_, err = fc.Get(ctx, "app1", "Articles")
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&loads), "invalidated entry reloads")
}

func TestFieldCacheCollapsesConcurrentLoads(t *testing.T) {
	var loads int32
	release := make(chan struct{})
	fc := NewFieldCache(time.Minute, func(ctx context.Context, baseID, table string) (map[string]Field, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return map[string]Field{"Title": {Name: "Title"}}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = fc.Get(context.Background(), "app1", "Articles")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
}

func TestFieldCacheDoesNotCacheErrors(t *testing.T) {
	calls := 0
	fc := NewFieldCache(time.Minute, func(ctx context.Context, baseID, table string) (map[string]Field, error) {
		calls++
		return nil, errors.New("boom")
	})

	_, err := fc.Get(context.Background(), "app1", "Articles")
	require.Error(t, err)
	_, err = fc.Get(context.Background(), "app1", "Articles")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestResolveFields(t *testing.T) {
	fields := map[string]Field{
		"Headline":         {Name: "Headline", Type: "singleLineText"},
		"source_link":      {Name: "source_link", Type: "url"},
		"Image":            {Name: "Image", Type: "multipleAttachments"},
		"why it matters?":  {Name: "why it matters?", Type: "multilineText"},
		"Published Date":   {Name: "Published Date", Type: "date"},
		"Unrelated column": {Name: "Unrelated column"},
	}

	r := ResolveFields(fields)

	assert.Equal(t, "Headline", r["title"].Name)
	assert.Equal(t, "source_link", r["source_link"].Name)
	assert.Equal(t, "Image", r["image_link"].Name)
	assert.Equal(t, "why it matters?", r["why_it_matters"].Name)
	assert.Equal(t, "Published Date", r["published_date"].Name)
	_, ok := r["business_value"]
	assert.False(t, ok)
}

type fakeAirtable struct {
	mu      sync.Mutex
	created [][]map[string]any
	filters []string
}

func (f *fakeAirtable) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat_test", r.Header.Get("Authorization"))
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/v0/meta/bases/app1/tables":
			_, _ = io.WriteString(w, `{"tables":[{"id":"tbl1","name":"Articles","fields":[
				{"id":"f1","name":"Title","type":"singleLineText"},
				{"id":"f2","name":"Link","type":"url"},
				{"id":"f3","name":"Image","type":"multipleAttachments"},
				{"id":"f4","name":"Published Date","type":"date"},
				{"id":"f5","name":"Canonical Link","type":"url"}]}]}`)
		case r.URL.Path == "/v0/app1/Articles" && r.Method == http.MethodGet:
			f.filters = append(f.filters, r.URL.Query().Get("filterByFormula"))
			if r.URL.Query().Get("offset") == "" {
				_, _ = io.WriteString(w, `{"records":[{"id":"rec1","createdTime":"2024-03-01T00:00:00.000Z","fields":{"Title":"One","Link":"https://a.example.com","Image":[{"url":"https://img.example.com/1.png"}],"Published Date":"2024-03-04"}}],"offset":"next"}`)
				return
			}
			_, _ = io.WriteString(w, `{"records":[{"id":"rec2","createdTime":"2024-03-02T00:00:00.000Z","fields":{"Title":"Two"}}]}`)
		case r.URL.Path == "/v0/app1/Articles" && r.Method == http.MethodPost:
			var body struct {
				Records []struct {
					Fields map[string]any `json:"fields"`
				} `json:"records"`
				Typecast bool `json:"typecast"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.True(t, body.Typecast)
			var batch []map[string]any
			var out []map[string]any
			for i, rec := range body.Records {
				batch = append(batch, rec.Fields)
				out = append(out, map[string]any{"id": "new" + string(rune('a'+i)), "fields": rec.Fields})
			}
			f.created = append(f.created, batch)
			_ = json.NewEncoder(w).Encode(map[string]any{"records": out})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"NOT_FOUND"}`)
		}
	}
}

func newStore(t *testing.T, f *fakeAirtable) *ArticleStore {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	client, err := NewClient(config.Airtable{APIKey: "pat_test", BaseID: "app1", BaseURL: srv.URL})
	require.NoError(t, err)
	return NewArticleStore(client, NewFieldCacheFor(client, time.Minute), "Articles")
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.Airtable{APIKey: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestArticleStoreRecent(t *testing.T) {
	f := &fakeAirtable{}
	store := newStore(t, f)

	articles, err := store.Recent(context.Background(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)

	require.Len(t, articles, 2)
	assert.Equal(t, "rec1", articles[0].ID)
	assert.Equal(t, "One", articles[0].Title)
	assert.Equal(t, "https://a.example.com", articles[0].Link)
	assert.Equal(t, "https://img.example.com/1.png", articles[0].ImageURL)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), articles[0].PublishedDate)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), articles[1].PublishedDate)

	require.NotEmpty(t, f.filters)
	assert.True(t, strings.HasPrefix(f.filters[0], "IS_AFTER({Published Date}, '2024-02-29T23:59:59Z')"), f.filters[0])
}

func TestArticleStoreSaveChunksAndMapsFields(t *testing.T) {
	f := &fakeAirtable{}
	store := newStore(t, f)

	var articles []core.Article
	for i := 0; i < 23; i++ {
		articles = append(articles, core.Article{
			Title:         "Story",
			Link:          "https://a.example.com/x",
			CanonicalLink: "https://a.example.com/x",
			ImageURL:      "https://img.example.com/x.png",
			PublishedDate: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
			BusinessValue: "ignored, no column",
		})
	}

	saved, err := store.Save(context.Background(), articles)
	require.NoError(t, err)
	assert.Len(t, saved, 23)

	require.Len(t, f.created, 3)
	assert.Len(t, f.created[0], 10)
	assert.Len(t, f.created[2], 3)

	first := f.created[0][0]
	assert.Equal(t, "Story", first["Title"])
	assert.Equal(t, "2024-03-04", first["Published Date"])
	assert.Equal(t, []any{map[string]any{"url": "https://img.example.com/x.png"}}, first["Image"])
	assert.NotContains(t, first, "Business Value")
}

func TestArticleStoreExistsByLinkEscapes(t *testing.T) {
	f := &fakeAirtable{}
	store := newStore(t, f)

	exists, err := store.ExistsByLink(context.Background(), "https://a.example.com/it's")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, `{Canonical Link} = 'https://a.example.com/it\'s'`, f.filters[len(f.filters)-1])
}

func TestAPIErrorShapes(t *testing.T) {
	err := parseAPIError(422, []byte(`{"error":{"type":"INVALID_VALUE_FOR_COLUMN","message":"Field \"Date\" cannot accept"}}`))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_VALUE_FOR_COLUMN", apiErr.Type)
	assert.Contains(t, apiErr.Message, "cannot accept")

	err = parseAPIError(404, []byte(`{"error":"NOT_FOUND"}`))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Type)
	assert.Equal(t, "Not Found", apiErr.Message)
}
