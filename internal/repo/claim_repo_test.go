package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-calendar-bot/internal/domain"
)

func newClaimDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Single connection keeps concurrent transactions serialized instead of
	// surfacing SQLITE_BUSY.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func testKey(n int) domain.ReactionKey {
	return domain.ReactionKey{
		ChannelID: "C123",
		MessageTS: fmt.Sprintf("1718000000.%06d", n),
		Reaction:  "calendar",
	}
}

func TestGetClaim_Missing_ReturnsNotFound(t *testing.T) {
	db := newClaimDB(t, &domain.ReactionClaim{})

	rec, err := GetClaim(context.Background(), db, testKey(1))
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound), got (%v, %v)", rec, err)
	}
}

func TestCreateClaim_SuccessAndDuplicate(t *testing.T) {
	db := newClaimDB(t, &domain.ReactionClaim{})
	key := testKey(2)

	rec, err := CreateClaim(context.Background(), db, key, "U1")
	if err != nil {
		t.Fatalf("CreateClaim error: %v", err)
	}
	if rec == nil || rec.ID == "" || rec.ChannelID != key.ChannelID || rec.MessageTS != key.MessageTS || rec.Reaction != key.Reaction || rec.UserID != "U1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Same key from a different user still collides.
	_, err2 := CreateClaim(context.Background(), db, key, "U2")
	if err2 != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err2)
	}
}

func TestGetClaim_RoundTrip(t *testing.T) {
	db := newClaimDB(t, &domain.ReactionClaim{})
	key := testKey(3)

	if _, err := CreateClaim(context.Background(), db, key, "U7"); err != nil {
		t.Fatalf("CreateClaim error: %v", err)
	}

	rec, err := GetClaim(context.Background(), db, key)
	if err != nil {
		t.Fatalf("GetClaim error: %v", err)
	}
	if rec.UserID != "U7" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestClaimReaction_FirstWinsSecondLoses(t *testing.T) {
	db := newClaimDB(t, &domain.ReactionClaim{})
	key := testKey(4)

	won, err := ClaimReaction(context.Background(), db, key, "U1")
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}

	won2, err2 := ClaimReaction(context.Background(), db, key, "U2")
	if err2 != nil || won2 {
		t.Fatalf("second claim: won=%v err=%v", won2, err2)
	}
}

func TestClaimReaction_ConcurrentSingleWinner(t *testing.T) {
	db := newClaimDB(t, &domain.ReactionClaim{})
	key := testKey(5)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := ClaimReaction(context.Background(), db, key, fmt.Sprintf("U%d", i))
			if err != nil {
				// Busy timeouts under contention are a store problem, not a
				// dedup win; surface them.
				t.Errorf("ClaimReaction error: %v", err)
				return
			}
			results <- won
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for won := range results {
		if won {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

// Generic DB error path: attempt insert without migrating the table.
func TestCreateClaim_Error_NoTable(t *testing.T) {
	db := newClaimDB(t) // intentionally NOT migrating reaction_claims
	_, err := CreateClaim(context.Background(), db, testKey(6), "U1")
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}

func TestClaimReaction_Error_NoTable(t *testing.T) {
	db := newClaimDB(t)
	_, err := ClaimReaction(context.Background(), db, testKey(7), "U1")
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
}
