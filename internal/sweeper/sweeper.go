// Package sweeper runs the scheduled retention pass: anonymizing completed
// conversations past each organization's retention window and deleting
// anonymized rows past the hard delete horizon.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"pulse/api/internal/store"
)

// Store is the slice of the datastore the sweeper needs.
type Store interface {
	ListOrganizations(ctx context.Context) ([]store.Organization, error)
	AnonymizeCompletedBefore(ctx context.Context, orgID string, cutoff time.Time) ([]string, error)
	DeleteAnonymizedBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error)
}

// SummaryIndex removes a conversation's summary from the search index once
// the row is anonymized. May be nil when search is not configured.
type SummaryIndex interface {
	DeleteSummary(id string)
}

type Sweeper struct {
	store           Store
	search          SummaryIndex
	cron            *cron.Cron
	schedule        string
	deleteAfterDays int
	logger          *log.Logger
	now             func() time.Time
}

func New(st Store, search SummaryIndex, schedule string, deleteAfterDays int, logger *log.Logger) *Sweeper {
	return &Sweeper{
		store:           st,
		search:          search,
		cron:            cron.New(),
		schedule:        schedule,
		deleteAfterDays: deleteAfterDays,
		logger:          logger,
		now:             time.Now,
	}
}

// Start registers the schedule and begins running. The schedule is standard
// 5-field cron syntax.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Printf("retention sweep scheduled: %q", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce sweeps every organization. A failure in one organization is logged
// and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		s.logger.Printf("retention sweep: list organizations: %v", err)
		return
	}

	now := s.now()
	for _, org := range orgs {
		if org.AnonymizeAfterDays <= 0 {
			continue
		}
		anonCutoff := now.AddDate(0, 0, -org.AnonymizeAfterDays)

		anonymized, err := s.store.AnonymizeCompletedBefore(ctx, org.ID, anonCutoff)
		if err != nil {
			s.logger.Printf("retention sweep: anonymize org %s: %v", org.ID, err)
			continue
		}
		// Anonymization must reach the search index too, or the summaries
		// stay findable after the rows are scrubbed.
		if s.search != nil {
			for _, id := range anonymized {
				s.search.DeleteSummary(id)
			}
		}

		var deleted int64
		if s.deleteAfterDays > 0 {
			deleteCutoff := anonCutoff.AddDate(0, 0, -s.deleteAfterDays)
			deleted, err = s.store.DeleteAnonymizedBefore(ctx, org.ID, deleteCutoff)
			if err != nil {
				s.logger.Printf("retention sweep: delete org %s: %v", org.ID, err)
				continue
			}
		}

		if len(anonymized) > 0 || deleted > 0 {
			s.logger.Printf("retention sweep: org %s anonymized=%d deleted=%d", org.ID, len(anonymized), deleted)
		}
	}
}
