package piistore

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// sample value pools for synthetic users
var (
	seedFirstNames = []string{"alice", "bob", "carol", "david", "erin", "frank", "grace", "henry", "iris", "jack", "karen", "liam", "mona", "nate", "olga", "peter"}
	seedLastNames  = []string{"kim", "lee", "park", "smith", "jones", "brown", "garcia", "miller", "davis", "wilson", "moore", "taylor"}
	seedGenders    = []string{"M", "F", "Other"}
	seedRoles      = []string{"user", "admin", "vendor"}
	seedDevices    = []string{"web", "mobile"}
	seedOSes       = []string{"Windows 10", "Windows 11", "macOS 14", "iOS 17", "Android 13"}
	seedCountries  = []string{"KR", "US", "JP", "DE", "FR", "BR", "IN", "AU"}
	seedCities     = []string{"Seoul", "Busan", "Tokyo", "Berlin", "Paris", "Austin", "Sydney", "Pune"}
	seedLanguages  = []string{"ko", "en", "ja", "de", "fr", "pt", "hi"}
)

// SeedSampleData inserts n synthetic users. The generator is seeded with a
// fixed value so repeated runs produce the same population, which keeps
// extraction results comparable across environments.
func (s *Store) SeedSampleData(ctx context.Context, n int) error {
	rng := rand.New(rand.NewSource(4321))
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	const batchSize = 1000
	batch := make([]User, 0, batchSize)
	for i := 0; i < n; i++ {
		first := seedFirstNames[rng.Intn(len(seedFirstNames))]
		last := seedLastNames[rng.Intn(len(seedLastNames))]
		username := fmt.Sprintf("%s.%s%d", first, last, i)
		created := base.Add(time.Duration(rng.Intn(4*365*24)) * time.Hour)
		updated := created.Add(time.Duration(rng.Intn(365*24)) * time.Hour)

		batch = append(batch, User{
			Username:     username,
			PasswordHash: fmt.Sprintf("hashedpwd%06d", rng.Intn(1000000)),
			Email:        fmt.Sprintf("%s@example.com", username),
			FirstName:    first,
			LastName:     last,
			Gender:       seedGenders[rng.Intn(len(seedGenders))],
			BirthDate:    base.AddDate(-18-rng.Intn(62), rng.Intn(12), rng.Intn(28)),
			Country:      seedCountries[rng.Intn(len(seedCountries))],
			City:         seedCities[rng.Intn(len(seedCities))],
			Languages:    seedLanguages[rng.Intn(len(seedLanguages))],
			IsActive:     rng.Intn(2) == 0,
			UserRole:     seedRoles[rng.Intn(len(seedRoles))],
			DateJoined:   created,
			CreatedAt:    created,
			UpdatedAt:    updated,
			LastLoginAt:  updated,
			DeviceType:   seedDevices[rng.Intn(len(seedDevices))],
			OS:           seedOSes[rng.Intn(len(seedOSes))],
		})
		if len(batch) == batchSize {
			if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
				return fmt.Errorf("insert seed batch at %d: %w", i, err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
			return fmt.Errorf("insert final seed batch: %w", err)
		}
	}
	return nil
}

// InsertUsers adds explicit users, used by tests and fixtures.
func (s *Store) InsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&users).Error; err != nil {
		return fmt.Errorf("insert %d users: %w", len(users), err)
	}
	return nil
}
