package store

import "time"

// SchemaVersion is persisted in the settings row and validated on open so a
// future layout change can migrate instead of misreading old rows.
const SchemaVersion = 1

// Category sources.
const (
	SourceBuiltin = "builtin"
	SourceList    = "list"
)

// BlockEntry is a manually blocked or category-expanded domain. Entries are
// replaced, never mutated in place.
type BlockEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Domain    string `gorm:"size:255;uniqueIndex;not null"`
	Category  string `gorm:"size:64"` // "MANUAL" or the category slug that added it
	CreatedAt time.Time
}

// Category is an independently toggleable set of domains, either a built-in
// fixed list or an externally downloaded blacklist.
type Category struct {
	ID            uint   `gorm:"primaryKey"`
	Slug          string `gorm:"size:64;uniqueIndex;not null"`
	Name          string `gorm:"size:128"`
	Description   string `gorm:"size:255"`
	Source        string `gorm:"size:16;not null"` // "builtin" or "list"
	Active        bool   `gorm:"default:false"`
	DomainsLoaded bool   `gorm:"default:false"`
	DomainCount   int
	LastUpdated   time.Time
}

// CategoryDomain holds one domain of a list-source category. Updates replace
// a category's rows wholesale; there is no incremental diff.
type CategoryDomain struct {
	ID           uint   `gorm:"primaryKey"`
	CategorySlug string `gorm:"size:64;index;not null"`
	Domain       string `gorm:"size:255;index;not null"`
}

// Schedule is a recurring weekly window during which access is allowed.
// StartTime > EndTime means the window spans midnight.
type Schedule struct {
	ID        uint   `gorm:"primaryKey"`
	UID       string `gorm:"size:36;uniqueIndex"`
	Name      string `gorm:"size:128"`
	StartTime string `gorm:"size:5;not null"` // "HH:MM"
	EndTime   string `gorm:"size:5;not null"` // "HH:MM"
	Days      string `gorm:"size:32;not null"` // comma-joined weekday indices, Monday=0
	Active    bool   `gorm:"default:true"`
	CreatedAt time.Time
}

// UsageDay is the additive per-calendar-day usage counter.
type UsageDay struct {
	ID              uint   `gorm:"primaryKey"`
	Date            string `gorm:"size:10;uniqueIndex;not null"` // "2006-01-02"
	MinutesUsed     int
	DomainsAccessed int
	BlocksCount     int
	UpdatedAt       time.Time
}

// Exception grants time-boxed access to a blocked domain. Expired rows are
// swept lazily on read, never on a timer.
type Exception struct {
	ID        uint   `gorm:"primaryKey"`
	UID       string `gorm:"size:36;uniqueIndex"`
	Domain    string `gorm:"size:255;index;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Setting is the single settings row (ID=1).
type Setting struct {
	ID                uint `gorm:"primaryKey"`
	SchemaVersion     int
	ProtectionActive  bool `gorm:"default:true"`
	DailyLimitMinutes *int
	LimitActive       bool
	PasswordHash      string `gorm:"size:128"`
	UpdatedAt         time.Time
}
