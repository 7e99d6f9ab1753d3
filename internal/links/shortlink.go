package links

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"letterdesk/internal/core"
	"letterdesk/internal/persistence"
)

const (
	// CodeAlphabet omits characters that are easy to misread (0/O, 1/I/l, o).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
	// CodeLength is the number of characters in a generated short code.
	CodeLength = 8
	// MaxCodeAttempts bounds collision retries for a single link.
	MaxCodeAttempts = 5
)

// ErrCodeExhausted is returned when no free short code was found.
var ErrCodeExhausted = errors.New("Failed to generate unique short code")

// ShortLinkStore is the persistence the short link service needs.
type ShortLinkStore interface {
	FindByTarget(ctx context.Context, targetURL string, articleID, sequenceID *string) (*core.ShortLink, error)
	GetByCode(ctx context.Context, code string) (*core.ShortLink, error)
	Create(ctx context.Context, link *core.ShortLink) error
	IncrementClicks(ctx context.Context, code string) error
}

// Service issues and resolves short links.
type Service struct {
	store   ShortLinkStore
	baseURL string
	random  io.Reader
}

// NewService creates a short link service issuing URLs under baseURL.
func NewService(store ShortLinkStore, baseURL string) *Service {
	return &Service{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		random:  rand.Reader,
	}
}

// WithRandom replaces the entropy source, for deterministic tests.
func (s *Service) WithRandom(r io.Reader) *Service {
	s.random = r
	return s
}

// ShortURL returns the public URL for a code.
func (s *Service) ShortURL(code string) string {
	return s.baseURL + ShortPathPrefix + code
}

// CreateShortLink returns the short URL for the (target, article, sequence)
// triple, reusing an existing mapping when one exists.
func (s *Service) CreateShortLink(ctx context.Context, targetURL string, articleID, sequenceID *string) (string, error) {
	if strings.TrimSpace(targetURL) == "" {
		return "", fmt.Errorf("target url is required")
	}

	existing, err := s.store.FindByTarget(ctx, targetURL, articleID, sequenceID)
	if err == nil {
		return s.ShortURL(existing.ShortCode), nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return "", fmt.Errorf("failed to look up short link: %w", err)
	}

	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := GenerateCode(s.random, CodeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate short code: %w", err)
		}

		if _, err := s.store.GetByCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return "", fmt.Errorf("failed to check short code: %w", err)
		}

		link := &core.ShortLink{
			ShortCode:  code,
			TargetURL:  targetURL,
			ArticleID:  articleID,
			SequenceID: sequenceID,
		}
		if err := s.store.Create(ctx, link); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				continue
			}
			return "", fmt.Errorf("failed to save short link: %w", err)
		}
		return s.ShortURL(code), nil
	}

	return "", ErrCodeExhausted
}

// Resolve looks up a short code and records one click on it.
func (s *Service) Resolve(ctx context.Context, code string) (*core.ShortLink, error) {
	link, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementClicks(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to record click: %w", err)
	}
	link.Clicks++
	return link, nil
}

// GenerateCode returns n characters drawn uniformly from CodeAlphabet.
func GenerateCode(r io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	out := make([]byte, n)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < n; i++ {
		num, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		out[i] = CodeAlphabet[num.Int64()]
	}
	return string(out), nil
}
