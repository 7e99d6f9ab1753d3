package distribution

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"letterdesk/internal/core"
	"letterdesk/internal/logger"
	"letterdesk/internal/resend"
)

// Mailer is the email provider surface the orchestrator needs.
type Mailer interface {
	ListAudiences(ctx context.Context) ([]core.Audience, error)
	ListContacts(ctx context.Context, audienceID string) ([]core.Contact, error)
	SendBatch(ctx context.Context, emails []resend.Email) error
	SendBroadcast(ctx context.Context, b resend.Broadcast) (string, error)
}

// recipientToken is replaced by each recipient's escaped address in
// batch-mode messages.
const recipientToken = "__letterdesk_recipient__"

// Message is a rendered issue ready to send.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// BatchReport counts the outcome of a batch send.
type BatchReport struct {
	Recipients int
	Sent       int
	Failed     int
	Batches    int
}

// providerRecipients gathers every contact of every provider audience,
// deduplicated by email. An address unsubscribed in any audience is dropped.
func providerRecipients(ctx context.Context, m Mailer) ([]string, error) {
	audiences, err := m.ListAudiences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list audiences: %w", err)
	}

	seen := map[string]bool{}
	var order []string
	for _, a := range audiences {
		contacts, err := m.ListContacts(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list contacts for audience %s: %w", a.ID, err)
		}
		for _, c := range contacts {
			email := strings.ToLower(strings.TrimSpace(c.Email))
			if email == "" {
				continue
			}
			subscribed, known := seen[email]
			if !known {
				order = append(order, email)
				seen[email] = !c.Unsubscribed
				continue
			}
			seen[email] = subscribed && !c.Unsubscribed
		}
	}

	out := make([]string, 0, len(order))
	for _, email := range order {
		if seen[email] {
			out = append(out, email)
		}
	}
	return out, nil
}

func localRecipients(subs []core.Subscriber) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		email := strings.ToLower(strings.TrimSpace(s.Email))
		if email == "" || s.Unsubscribed || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}

// personalize substitutes the recipient token in msg for one address.
func personalize(msg Message, unsubscribeURL, email string) resend.Email {
	escaped := url.QueryEscape(email)
	e := resend.Email{
		To:      email,
		Subject: msg.Subject,
		HTML:    strings.ReplaceAll(msg.HTML, recipientToken, escaped),
		Text:    strings.ReplaceAll(msg.Text, recipientToken, escaped),
	}
	if unsubscribeURL != "" {
		e.Headers = map[string]string{
			"List-Unsubscribe": "<" + strings.ReplaceAll(unsubscribeURL, recipientToken, escaped) + ">",
		}
	}
	return e
}

// sendBatches delivers msg to recipients in fixed-size batches, one batch
// at a time. Each batch gets up to maxAttempts tries with a linear backoff;
// an exhausted batch is counted as failed and sending continues.
func (o *Orchestrator) sendBatches(ctx context.Context, recipients []string, msg Message, unsubscribeURL string) (BatchReport, error) {
	report := BatchReport{Recipients: len(recipients)}
	size := o.opts.BatchSize
	if size <= 0 || size > 100 {
		size = 100
	}
	attempts := max(o.opts.MaxAttempts, 1)

	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		batch := make([]resend.Email, 0, end-start)
		for _, email := range recipients[start:end] {
			batch = append(batch, personalize(msg, unsubscribeURL, email))
		}
		report.Batches++

		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			if err = o.mailer.SendBatch(ctx, batch); err == nil {
				break
			}
			logger.Warn("Batch send failed", "batch", report.Batches, "attempt", attempt, "error", err.Error())
			if attempt < attempts {
				if serr := o.sleep(ctx, o.opts.RetryBackoff*time.Duration(attempt)); serr != nil {
					return report, serr
				}
			}
		}
		if err != nil {
			report.Failed += len(batch)
		} else {
			report.Sent += len(batch)
		}

		if end < len(recipients) {
			if serr := o.sleep(ctx, o.opts.BatchPause); serr != nil {
				return report, serr
			}
		}
	}

	return report, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
