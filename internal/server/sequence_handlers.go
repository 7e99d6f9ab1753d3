package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"letterdesk/internal/core"
	"letterdesk/internal/distribution"
)

var sendTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// sequencePayload is the create/update body. Nil fields are left unchanged
// on update.
type sequencePayload struct {
	Name         *string `json:"name"`
	Status       *string `json:"status"`
	AudienceID   *string `json:"audience_id"`
	DayOfWeek    []int   `json:"day_of_week"`
	DaysOfWeek   []int   `json:"days_of_week"`
	Time         *string `json:"time"`
	SendTime     *string `json:"send_time"`
	Timezone     *string `json:"timezone"`
	Subject      *string `json:"subject"`
	SystemPrompt *string `json:"system_prompt"`
	UserPrompt   *string `json:"user_prompt"`
	TemplateID   *string `json:"template_id"`
}

func (p *sequencePayload) days() []int {
	if p.DayOfWeek != nil {
		return p.DayOfWeek
	}
	return p.DaysOfWeek
}

func (p *sequencePayload) sendTime() *string {
	if p.Time != nil {
		return p.Time
	}
	return p.SendTime
}

// apply copies the payload onto seq and validates the result.
func (p *sequencePayload) apply(seq *core.Sequence) error {
	if p.Name != nil {
		seq.Name = strings.TrimSpace(*p.Name)
	}
	if p.Status != nil {
		seq.Status = core.SequenceStatus(strings.ToLower(strings.TrimSpace(*p.Status)))
	}
	if p.AudienceID != nil {
		seq.AudienceID = strings.TrimSpace(*p.AudienceID)
	}
	if days := p.days(); days != nil {
		seq.DaysOfWeek = days
	}
	if t := p.sendTime(); t != nil {
		seq.SendTime = strings.TrimSpace(*t)
	}
	if p.Timezone != nil {
		seq.Timezone = strings.TrimSpace(*p.Timezone)
	}
	if p.Subject != nil {
		seq.Subject = *p.Subject
	}
	if p.SystemPrompt != nil {
		seq.SystemPrompt = *p.SystemPrompt
	}
	if p.UserPrompt != nil {
		seq.UserPrompt = *p.UserPrompt
	}
	if p.TemplateID != nil {
		seq.TemplateID = core.StringPtr(strings.TrimSpace(*p.TemplateID))
	}
	return validateSequence(seq)
}

func validateSequence(seq *core.Sequence) error {
	var problems []string
	if seq.Name == "" {
		problems = append(problems, "name is required")
	}
	switch seq.Status {
	case "", core.SequenceDraft, core.SequenceActive, core.SequencePaused:
	default:
		problems = append(problems, fmt.Sprintf("invalid status %q", seq.Status))
	}
	if seq.SendTime != "" && !sendTimePattern.MatchString(seq.SendTime) {
		problems = append(problems, "time must be HH:MM")
	}
	for _, d := range seq.DaysOfWeek {
		if d < 0 || d > 6 {
			problems = append(problems, fmt.Sprintf("invalid day of week %d", d))
			break
		}
	}
	if seq.Timezone != "" {
		if _, err := time.LoadLocation(seq.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("unknown timezone %q", seq.Timezone))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	seqs, err := s.db.Sequences().List(r.Context(), listOptions(r))
	if err != nil {
		s.respondStoreError(w, err, "sequences")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sequences": seqs})
}

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var payload sequencePayload
	if err := decodePayload(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	seq := &core.Sequence{}
	if err := payload.apply(seq); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.Sequences().Create(r.Context(), seq); err != nil {
		s.respondStoreError(w, err, "sequence")
		return
	}

	s.log.Info("Sequence created", "sequence_id", seq.ID, "name", seq.Name)
	s.respondJSON(w, http.StatusCreated, seq)
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := s.db.Sequences().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "Sequence")
		return
	}
	s.respondJSON(w, http.StatusOK, seq)
}

func (s *Server) handleUpdateSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := s.db.Sequences().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "Sequence")
		return
	}

	var payload sequencePayload
	if err := decodePayload(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.apply(seq); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.Sequences().Update(r.Context(), seq); err != nil {
		s.respondStoreError(w, err, "Sequence")
		return
	}
	s.respondJSON(w, http.StatusOK, seq)
}

func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Sequences().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, err, "Sequence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendSequence runs a distribution synchronously and returns its result.
func (s *Server) handleSendSequence(w http.ResponseWriter, r *http.Request) {
	if s.deps.Distributor == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Distribution is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	opts := distribution.RunOptions{
		SkipArticleCheck: queryBool(r, "skipArticleCheck") || queryBool(r, "skip_article_check"),
	}
	// A run is never cut short by the request deadline or a client
	// disconnect; partial sends cannot be retried safely.
	result, err := s.deps.Distributor.Run(context.WithoutCancel(r.Context()), id, opts)
	if err != nil {
		s.respondDistributionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handlePreviewSequence renders a sequence without sending. ?format=html
// returns the email body itself.
func (s *Server) handlePreviewSequence(w http.ResponseWriter, r *http.Request) {
	if s.deps.Distributor == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Distribution is not configured")
		return
	}

	preview, err := s.deps.Distributor.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDistributionError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(preview.HTML))
		return
	}
	s.respondJSON(w, http.StatusOK, preview)
}

func (s *Server) respondDistributionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, distribution.ErrSequenceInactive):
		s.respondError(w, http.StatusNotFound, distribution.ErrSequenceInactive.Error())
	case errors.Is(err, distribution.ErrNoAudience):
		s.respondError(w, http.StatusBadRequest, distribution.ErrNoAudience.Error())
	default:
		s.log.Error("Distribution failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
