// Package piistore is the read side of the user database holding the
// PII fields joined into extraction output.
package piistore

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// User mirrors one row of the users table.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"size:64;uniqueIndex"`
	PasswordHash string    `gorm:"size:128"`
	Email        string    `gorm:"size:128"`
	FirstName    string    `gorm:"size:64"`
	LastName     string    `gorm:"size:64"`
	Gender       string    `gorm:"size:16"`
	BirthDate    time.Time
	Country      string `gorm:"size:64"`
	City         string `gorm:"size:64"`
	Languages    string `gorm:"size:16"`
	IsActive     bool
	UserRole     string `gorm:"size:16"`
	DateJoined   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  time.Time
	DeviceType   string `gorm:"size:16"`
	OS           string `gorm:"size:32;column:os"`
}

func (User) TableName() string { return "users" }

// PIIRecord is the per-username snapshot the joiner merges into each chunk.
type PIIRecord struct {
	Username string
	Email    string
	Gender   string
}

// Store wraps the user database connection. It is safe for concurrent
// read-only use across pipeline runs.
type Store struct {
	db *gorm.DB
}

// Open connects to the user database. Driver is "mysql" or "sqlite".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s user database: %w", driver, err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users table: %w", err)
	}
	return &Store{db: db}, nil
}

// LookupByUsernames resolves PII fields for the given usernames in a single
// batched query. Usernames absent from the store are simply missing from the
// returned map; the caller keeps those rows with empty PII fields.
func (s *Store) LookupByUsernames(ctx context.Context, usernames []string) (map[string]PIIRecord, error) {
	out := make(map[string]PIIRecord, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}
	var recs []PIIRecord
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Select("username", "email", "gender").
		Where("username IN ?", usernames).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("lookup %d usernames: %w", len(usernames), err)
	}
	for _, r := range recs {
		out[r.Username] = r
	}
	return out, nil
}

// Count returns how many users the store holds.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
