// Package store is the persistent rule store: blocked domains, categories,
// schedules, usage counters, temporary exceptions and settings. All mutations
// are serialized through a single writer lock per Store; the sqlite commit
// completes before the lock is released, so a crash never leaves an
// interleaved partial write behind.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"homeguard/internal/domain"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the sqlite rule store, migrates the schema
// and validates the persisted schema version.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.AutoMigrate(
		&BlockEntry{}, &Category{}, &CategoryDomain{},
		&Schedule{}, &UsageDay{}, &Exception{}, &Setting{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{db: gdb}
	if err := s.ensureSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSettings() error {
	var st Setting
	err := s.db.First(&st, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		st = Setting{ID: 1, SchemaVersion: SchemaVersion, ProtectionActive: true, UpdatedAt: time.Now()}
		return s.db.Create(&st).Error
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if st.SchemaVersion > SchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported %d", st.SchemaVersion, SchemaVersion)
	}
	if st.SchemaVersion < SchemaVersion {
		// Only one version exists so far; bump the marker.
		return s.db.Model(&Setting{}).Where("id = ?", 1).
			Update("schema_version", SchemaVersion).Error
	}
	return nil
}

// Blocked sites

func (s *Store) AddBlockedSite(d, category string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing BlockEntry
	err := s.db.Where("domain = ?", d).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup blocked site: %w", err)
	}
	if category == "" {
		category = "MANUAL"
	}
	entry := BlockEntry{Domain: d, Category: category}
	if err := s.db.Create(&entry).Error; err != nil {
		return false, fmt.Errorf("add blocked site: %w", err)
	}
	return true, nil
}

func (s *Store) RemoveBlockedSite(d string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Where("domain = ?", d).Delete(&BlockEntry{})
	if res.Error != nil {
		return false, fmt.Errorf("remove blocked site: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) BlockedSites() ([]BlockEntry, error) {
	var entries []BlockEntry
	err := s.db.Order("domain").Find(&entries).Error
	return entries, err
}

// BlockedSite returns the entry matching d exactly, or ErrNotFound.
func (s *Store) BlockedSite(d string) (*BlockEntry, error) {
	var entry BlockEntry
	err := s.db.Where("domain = ?", d).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Categories

func (s *Store) UpsertCategory(c Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing Category
	err := s.db.Where("slug = ?", c.Slug).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.LastUpdated = time.Now()
		return s.db.Create(&c).Error
	}
	if err != nil {
		return fmt.Errorf("lookup category: %w", err)
	}
	return s.db.Model(&existing).Updates(map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"source":      c.Source,
	}).Error
}

func (s *Store) SetCategoryActive(slug string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Model(&Category{}).Where("slug = ?", slug).Updates(map[string]any{
		"active":       active,
		"last_updated": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("toggle category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Categories(activeOnly bool) ([]Category, error) {
	var cats []Category
	q := s.db.Order("slug")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Find(&cats).Error
	return cats, err
}

func (s *Store) CategoryBySlug(slug string) (*Category, error) {
	var c Category
	err := s.db.Where("slug = ?", slug).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ReplaceCategoryDomains swaps a list category's domain set wholesale and
// updates its bookkeeping. A failed earlier download never reaches this point,
// so the previous set stays intact on refresh errors.
func (s *Store) ReplaceCategoryDomains(slug string, domains []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category_slug = ?", slug).Delete(&CategoryDomain{}).Error; err != nil {
			return err
		}
		const batch = 500
		rows := make([]CategoryDomain, 0, len(domains))
		for _, d := range domains {
			rows = append(rows, CategoryDomain{CategorySlug: slug, Domain: d})
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, batch).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Category{}).Where("slug = ?", slug).Updates(map[string]any{
			"domain_count":   len(domains),
			"domains_loaded": true,
			"last_updated":   time.Now(),
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("replace category domains: %w", err)
	}
	return len(domains), nil
}

func (s *Store) CategoryDomains(slug string) ([]string, error) {
	var rows []CategoryDomain
	if err := s.db.Where("category_slug = ?", slug).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Domain)
	}
	return out, nil
}

// BlacklistMatch checks d and its parent domains against the domain sets of
// all active list-source categories; it returns the matching category slugs.
func (s *Store) BlacklistMatch(d string) ([]string, error) {
	active, err := s.Categories(true)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(active))
	for _, c := range active {
		if c.Source == SourceList {
			slugs = append(slugs, c.Slug)
		}
	}
	if len(slugs) == 0 {
		return nil, nil
	}

	candidates := append([]string{d}, domain.Parents(d)...)
	for _, cand := range candidates {
		var rows []CategoryDomain
		err := s.db.Where("domain = ? AND category_slug IN ?", cand, slugs).Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("blacklist lookup: %w", err)
		}
		if len(rows) > 0 {
			matched := make([]string, 0, len(rows))
			for _, r := range rows {
				matched = append(matched, r.CategorySlug)
			}
			return matched, nil
		}
	}
	return nil, nil
}

// Schedules

func (s *Store) AddSchedule(name, start, end string, days []int, active bool) (*Schedule, error) {
	if len(days) == 0 {
		return nil, errors.New("schedule needs at least one day")
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
	}
	if !validClock(start) || !validClock(end) {
		return nil, fmt.Errorf("invalid time window %s-%s", start, end)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sched := Schedule{
		UID:       uuid.NewString(),
		Name:      name,
		StartTime: start,
		EndTime:   end,
		Days:      joinDays(days),
		Active:    active,
	}
	if err := s.db.Create(&sched).Error; err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}
	return &sched, nil
}

func (s *Store) Schedules(activeOnly bool) ([]Schedule, error) {
	var scheds []Schedule
	q := s.db.Order("id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Find(&scheds).Error
	return scheds, err
}

func (s *Store) UpdateSchedule(uid string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Model(&Schedule{}).Where("uid = ?", uid).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSchedule(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Where("uid = ?", uid).Delete(&Schedule{})
	if res.Error != nil {
		return fmt.Errorf("delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DaysList parses the stored comma-joined weekday set.
func (sc *Schedule) DaysList() []int {
	parts := strings.Split(sc.Days, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Usage counters

func (s *Store) RecordUsage(date string, minutes, accessed, blocks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var day UsageDay
	err := s.db.Where("date = ?", date).First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		day = UsageDay{
			Date:            date,
			MinutesUsed:     minutes,
			DomainsAccessed: accessed,
			BlocksCount:     blocks,
			UpdatedAt:       time.Now(),
		}
		if err := s.db.Create(&day).Error; err != nil {
			return fmt.Errorf("record usage: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}
	return s.db.Model(&day).Updates(map[string]any{
		"minutes_used":     day.MinutesUsed + minutes,
		"domains_accessed": day.DomainsAccessed + accessed,
		"blocks_count":     day.BlocksCount + blocks,
		"updated_at":       time.Now(),
	}).Error
}

func (s *Store) UsageFor(date string) (UsageDay, error) {
	var day UsageDay
	err := s.db.Where("date = ?", date).First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UsageDay{Date: date}, nil
	}
	return day, err
}

// Temporary exceptions

func (s *Store) AddException(d string, expires time.Time) (*Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exc := Exception{UID: uuid.NewString(), Domain: d, ExpiresAt: expires}
	if err := s.db.Create(&exc).Error; err != nil {
		return nil, fmt.Errorf("add exception: %w", err)
	}
	return &exc, nil
}

// ActiveExceptions returns unexpired exceptions and lazily removes the rest.
func (s *Store) ActiveExceptions(now time.Time) ([]Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Where("expires_at <= ?", now).Delete(&Exception{}).Error; err != nil {
		return nil, fmt.Errorf("sweep exceptions: %w", err)
	}
	var excs []Exception
	err := s.db.Where("expires_at > ?", now).Find(&excs).Error
	return excs, err
}

// Settings

func (s *Store) Settings() (Setting, error) {
	var st Setting
	err := s.db.First(&st, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Setting{}, ErrNotFound
	}
	return st, err
}

func (s *Store) UpdateSettings(updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates["updated_at"] = time.Now()
	return s.db.Model(&Setting{}).Where("id = ?", 1).Updates(updates).Error
}

// SetDailyLimit configures the usage cap; minutes <= 0 disables it.
func (s *Store) SetDailyLimit(minutes int) error {
	if minutes <= 0 {
		return s.UpdateSettings(map[string]any{
			"daily_limit_minutes": nil,
			"limit_active":        false,
		})
	}
	return s.UpdateSettings(map[string]any{
		"daily_limit_minutes": minutes,
		"limit_active":        true,
	})
}

func validClock(v string) bool {
	t, err := time.Parse("15:04", v)
	return err == nil && t.Format("15:04") == v
}

func joinDays(days []int) string {
	parts := make([]string, 0, len(days))
	seen := make(map[int]bool, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}
