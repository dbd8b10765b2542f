package service

import (
	"context"
	"fmt"
	"time"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// RankingService builds commission earnings leaderboards.
type RankingService struct {
	store    store.Store
	timezone *time.Location
}

// NewRankingService creates a new RankingService instance.
func NewRankingService(st store.Store, timezone *time.Location) *RankingService {
	if timezone == nil {
		timezone = time.UTC
	}
	return &RankingService{
		store:    st,
		timezone: timezone,
	}
}

// Location returns the timezone that defines a ranking day.
func (s *RankingService) Location() *time.Location {
	return s.timezone
}

// TopEarnersToday retrieves today's top commission earners.
func (s *RankingService) TopEarnersToday(ctx context.Context, limit int) ([]*model.EarningRank, error) {
	return s.TopEarnersForDate(ctx, time.Now(), limit)
}

// TopEarnersForDate retrieves the top commission earners for the calendar day
// containing date, in the service's timezone.
func (s *RankingService) TopEarnersForDate(ctx context.Context, date time.Time, limit int) ([]*model.EarningRank, error) {
	if limit <= 0 {
		limit = 10
	}
	from, to := dayBounds(date, s.timezone)

	var ranks []*model.EarningRank
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ranks, err = tx.Commissions().TopEarners(ctx, from, to, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get daily earners: %w", err)
	}
	return ranks, nil
}

// dayBounds returns [start of day, start of next day) for date in loc.
func dayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	d := date.In(loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}
