// Package scheduler runs sequence distributions and feed ingestion on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"letterdesk/internal/config"
	"letterdesk/internal/core"
	"letterdesk/internal/distribution"
	"letterdesk/internal/ingest"
	"letterdesk/internal/logger"
)

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// SequenceLister lists sequences that should be scheduled.
type SequenceLister interface {
	ListActive(ctx context.Context) ([]core.Sequence, error)
}

// Distributor runs one sequence.
type Distributor interface {
	Run(ctx context.Context, sequenceID string, opts distribution.RunOptions) (*distribution.Result, error)
}

// Ingester runs feed ingestion.
type Ingester interface {
	Run(ctx context.Context) (*ingest.Report, error)
}

// Options configure a Scheduler.
type Options struct {
	IngestionSchedule string        // cron spec; empty disables ingestion
	ReloadInterval    time.Duration // how often sequences are re-read; 0 disables
	JobTimeout        time.Duration
}

// OptionsFromConfig maps the scheduler section onto Options.
func OptionsFromConfig(cfg config.Scheduler) Options {
	return Options{
		IngestionSchedule: cfg.IngestionSchedule,
		ReloadInterval:    config.Duration(cfg.ReloadInterval, 5*time.Minute),
		JobTimeout:        30 * time.Minute,
	}
}

// Scheduler keeps one cron entry per active sequence.
type Scheduler struct {
	cron        *cron.Cron
	sequences   SequenceLister
	distributor Distributor
	ingester    Ingester
	opts        Options
	log         *slog.Logger

	mu      sync.Mutex
	entries map[string]scheduled // sequence id -> entry
	ctx     context.Context
}

type scheduled struct {
	id   cron.EntryID
	spec string
}

// New creates a scheduler. ingester may be nil.
func New(sequences SequenceLister, distributor Distributor, ingester Ingester, opts Options) *Scheduler {
	log := logger.Get().With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sequences:   sequences,
		distributor: distributor,
		ingester:    ingester,
		opts:        opts,
		log:         log,
		entries:     make(map[string]scheduled),
		ctx:         context.Background(),
	}
}

// SequenceSpec builds the cron spec for a sequence:
// "CRON_TZ=<tz> <mm> <hh> * * <days>". No days means every day.
func SequenceSpec(seq core.Sequence) (string, error) {
	sendTime := seq.SendTime
	if sendTime == "" {
		sendTime = "09:00"
	}
	matches := timeRegex.FindStringSubmatch(sendTime)
	if len(matches) != 3 {
		return "", fmt.Errorf("invalid send time %q (expected HH:MM)", sendTime)
	}
	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	tz := strings.TrimSpace(seq.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	days := "*"
	if len(seq.DaysOfWeek) > 0 {
		uniq := make(map[int]bool, len(seq.DaysOfWeek))
		list := make([]int, 0, len(seq.DaysOfWeek))
		for _, d := range seq.DaysOfWeek {
			if d < 0 || d > 6 {
				return "", fmt.Errorf("invalid day of week %d", d)
			}
			if !uniq[d] {
				uniq[d] = true
				list = append(list, d)
			}
		}
		sort.Ints(list)
		parts := make([]string, len(list))
		for i, d := range list {
			parts[i] = strconv.Itoa(d)
		}
		days = strings.Join(parts, ",")
	}

	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", tz, minute, hour, days), nil
}

// Start loads sequences, registers the ingestion job and starts the cron
// loop. Jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.opts.IngestionSchedule != "" && s.ingester != nil {
		if _, err := s.cron.AddFunc(s.opts.IngestionSchedule, s.runIngestion); err != nil {
			return fmt.Errorf("invalid ingestion schedule %q: %w", s.opts.IngestionSchedule, err)
		}
		s.log.Info("Ingestion scheduled", "spec", s.opts.IngestionSchedule)
	}

	if err := s.Reload(ctx); err != nil {
		return err
	}

	if s.opts.ReloadInterval > 0 {
		spec := "@every " + s.opts.ReloadInterval.String()
		if _, err := s.cron.AddFunc(spec, func() {
			if err := s.Reload(s.context()); err != nil {
				s.log.Error("Failed to reload sequences", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid reload interval: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info("Scheduler started", "sequences", s.Len())
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// Reload re-reads active sequences, adding, replacing and removing entries
// so the cron table matches the store.
func (s *Scheduler) Reload(ctx context.Context) error {
	seqs, err := s.sequences.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sequences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(seqs))
	for _, seq := range seqs {
		spec, err := SequenceSpec(seq)
		if err != nil {
			s.log.Warn("Skipping sequence with invalid schedule", "sequence_id", seq.ID, "error", err)
			continue
		}
		if seq.AudienceID == "" {
			s.log.Warn("Skipping sequence without audience", "sequence_id", seq.ID)
			continue
		}
		seen[seq.ID] = true

		if cur, ok := s.entries[seq.ID]; ok {
			if cur.spec == spec {
				continue
			}
			s.cron.Remove(cur.id)
		}

		id := seq.ID
		entryID, err := s.cron.AddFunc(spec, func() { s.runSequence(id) })
		if err != nil {
			s.log.Warn("Failed to schedule sequence", "sequence_id", id, "spec", spec, "error", err)
			delete(s.entries, id)
			continue
		}
		s.entries[id] = scheduled{id: entryID, spec: spec}
		s.log.Info("Sequence scheduled", "sequence_id", id, "name", seq.Name, "spec", spec)
	}

	for id, cur := range s.entries {
		if !seen[id] {
			s.cron.Remove(cur.id)
			delete(s.entries, id)
			s.log.Info("Sequence unscheduled", "sequence_id", id)
		}
	}
	return nil
}

// Len returns the number of scheduled sequences.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Specs returns the cron spec per scheduled sequence id.
func (s *Scheduler) Specs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.spec
	}
	return out
}

// Next returns the next run time for a sequence.
func (s *Scheduler) Next(sequenceID string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[sequenceID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(e.id).Next, true
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runSequence(id string) {
	ctx, cancel := s.jobContext()
	defer cancel()

	start := time.Now()
	result, err := s.distributor.Run(ctx, id, distribution.RunOptions{})
	if err != nil {
		s.log.Error("Scheduled distribution failed", "sequence_id", id, "error", err)
		return
	}
	s.log.Info("Scheduled distribution finished",
		"sequence_id", id,
		"skipped", result.Skipped,
		"sent", result.Sent,
		"duration", time.Since(start),
	)
}

func (s *Scheduler) runIngestion() {
	ctx, cancel := s.jobContext()
	defer cancel()

	report, err := s.ingester.Run(ctx)
	if err != nil {
		s.log.Error("Scheduled ingestion failed", "error", err)
		return
	}
	s.log.Info("Scheduled ingestion finished", "saved", report.Saved, "feeds", report.Feeds)
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	ctx := s.context()
	if s.opts.JobTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
