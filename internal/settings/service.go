// Package settings owns the singleton sync schedule configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

type Service struct {
	queries store.Queries
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(log *slog.Logger, queries store.Queries) *Service {
	return &Service{
		queries: queries,
		logger:  log.With(slog.String("service", "settings")),
		now:     time.Now,
	}
}

// Defaults returns the values the settings row starts with.
func Defaults() domain.SyncSettings {
	return domain.SyncSettings{
		AutoSync:      DefaultAutoSync,
		MorningTime:   DefaultMorningTime,
		EveningTime:   DefaultEveningTime,
		Timezone:      DefaultTimezone,
		RetentionDays: DefaultRetentionDays,
	}
}

// Get returns the settings, writing the defaults the first time they are read.
func (s *Service) Get(ctx context.Context) (domain.SyncSettings, error) {
	current, err := s.queries.GetSettings(ctx)
	if err == nil {
		return normalize(current), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.SyncSettings{}, fmt.Errorf("get settings: %w", err)
	}
	current = Defaults()
	current.UpdatedAt = s.now().UTC()
	if err := s.queries.UpsertSettings(ctx, current); err != nil {
		return domain.SyncSettings{}, fmt.Errorf("init settings: %w", err)
	}
	s.logger.Info("sync settings initialized with defaults")
	return current, nil
}

// Update merges the set fields of req into the current settings.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (domain.SyncSettings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return domain.SyncSettings{}, err
	}
	if req.AutoSync != nil {
		current.AutoSync = *req.AutoSync
	}
	if req.MorningTime != nil {
		current.MorningTime = strings.TrimSpace(*req.MorningTime)
	}
	if req.EveningTime != nil {
		current.EveningTime = strings.TrimSpace(*req.EveningTime)
	}
	if req.Timezone != nil {
		current.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if req.RetentionDays != nil {
		current.RetentionDays = *req.RetentionDays
	}
	if err := Validate(current); err != nil {
		return domain.SyncSettings{}, err
	}
	current.UpdatedAt = s.now().UTC()
	if err := s.queries.UpsertSettings(ctx, current); err != nil {
		return domain.SyncSettings{}, fmt.Errorf("update settings: %w", err)
	}
	s.logger.Info("sync settings updated",
		slog.Bool("auto_sync", current.AutoSync),
		slog.String("morning", current.MorningTime),
		slog.String("evening", current.EveningTime),
		slog.String("timezone", current.Timezone),
		slog.Int("retention_days", current.RetentionDays))
	return current, nil
}

// Validate checks every field of a settings value.
func Validate(st domain.SyncSettings) error {
	for _, v := range []string{st.MorningTime, st.EveningTime} {
		if _, _, err := parseClock(v); err != nil {
			return err
		}
	}
	if _, err := time.LoadLocation(st.Timezone); err != nil || st.Timezone == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, st.Timezone)
	}
	if st.RetentionDays < 1 || st.RetentionDays > MaxRetentionDays {
		return fmt.Errorf("%w: %d", ErrInvalidRetention, st.RetentionDays)
	}
	return nil
}

// Retention is how long an archive made now is kept.
func Retention(st domain.SyncSettings) time.Duration {
	days := st.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// NextRun returns the first of the two daily sync times strictly after now, evaluated in tz
// (the settings timezone when tz is empty).
func NextRun(now time.Time, st domain.SyncSettings, tz string) (time.Time, error) {
	if strings.TrimSpace(tz) == "" {
		tz = st.Timezone
	}
	if tz == "" {
		tz = DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	var next time.Time
	for _, clock := range []string{st.MorningTime, st.EveningTime} {
		h, m, err := parseClock(clock)
		if err != nil {
			return time.Time{}, err
		}
		sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, m, h))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse schedule: %w", err)
		}
		if t := sched.Next(now); next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next.UTC(), nil
}

func parseClock(v string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, v)
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, v)
	}
	return hour, minute, nil
}

func normalize(st domain.SyncSettings) domain.SyncSettings {
	if st.MorningTime == "" {
		st.MorningTime = DefaultMorningTime
	}
	if st.EveningTime == "" {
		st.EveningTime = DefaultEveningTime
	}
	if st.Timezone == "" {
		st.Timezone = DefaultTimezone
	}
	if st.RetentionDays <= 0 {
		st.RetentionDays = DefaultRetentionDays
	}
	return st
}
