package piistore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "dsn")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown database driver")
}

func TestLookupByUsernames(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertUsers(ctx, []User{
		{Username: "alice.kim1", Email: "alice.kim1@example.com", Gender: "F"},
		{Username: "bob.lee2", Email: "bob.lee2@example.com", Gender: "M"},
		{Username: "carol.park3", Email: "carol.park3@example.com", Gender: "F"},
	}))

	got, err := s.LookupByUsernames(ctx, []string{"alice.kim1", "carol.park3", "nobody"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, PIIRecord{Username: "alice.kim1", Email: "alice.kim1@example.com", Gender: "F"}, got["alice.kim1"])
	require.Equal(t, "carol.park3@example.com", got["carol.park3"].Email)
	_, found := got["nobody"]
	require.False(t, found, "unknown usernames stay absent from the map")
}

func TestLookupByUsernamesEmptyInput(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LookupByUsernames(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSeedSampleDataDeterministic(t *testing.T) {
	ctx := context.Background()

	a := openTestStore(t)
	require.NoError(t, a.SeedSampleData(ctx, 2500))
	n, err := a.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2500, n)

	b := openTestStore(t)
	require.NoError(t, b.SeedSampleData(ctx, 2500))

	var fromA, fromB []User
	require.NoError(t, a.db.Order("id").Limit(50).Find(&fromA).Error)
	require.NoError(t, b.db.Order("id").Limit(50).Find(&fromB).Error)
	require.Len(t, fromA, 50)
	for i := range fromA {
		require.Equal(t, fromA[i].Username, fromB[i].Username)
		require.Equal(t, fromA[i].Email, fromB[i].Email)
		require.Equal(t, fromA[i].Gender, fromB[i].Gender)
	}
}

func TestUsernameUniqueIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertUsers(ctx, []User{{Username: "dup.user1", Email: "a@example.com"}}))
	err := s.InsertUsers(ctx, []User{{Username: "dup.user1", Email: "b@example.com"}})
	require.Error(t, err)
}
