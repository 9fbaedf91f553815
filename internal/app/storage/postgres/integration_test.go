package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/domain/grid"
	"github.com/savepop/savepop/internal/app/domain/quest"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/domain/veto"
	apperrors "github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/internal/platform/migrations"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := New(db)
	user := "it-" + uuid.NewString()

	g, err := store.CreateGoal(ctx, goal.Goal{
		UserID:       user,
		Name:         "Trip",
		Category:     goal.CategoryVacation,
		TargetAmount: decimal.NewFromInt(100),
		Status:       goal.StatusActive,
		TotalLevels:  5,
		Thresholds:   []decimal.Decimal{decimal.NewFromInt(20), decimal.NewFromInt(100)},
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	g, err = store.UpdateGoal(ctx, g.ID, func(g *goal.Goal) error {
		g.CurrentAmount = decimal.NewFromInt(40)
		return nil
	})
	if err != nil {
		t.Fatalf("update goal: %v", err)
	}
	loaded, err := store.GetGoal(ctx, g.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if !loaded.CurrentAmount.Equal(decimal.NewFromInt(40)) || len(loaded.Thresholds) != 2 {
		t.Fatalf("goal did not round trip: %+v", loaded)
	}

	key := "it:" + user
	entry := &reward.Entry{Points: 10, Coins: 25, Reason: "contribution", IdempotencyKey: key}
	add := func(b *reward.Balance) error {
		b.Points += 10
		b.Coins += 25
		return nil
	}
	if _, applied, err := store.MutateBalance(ctx, user, entry, add); err != nil || !applied {
		t.Fatalf("first award: applied=%v err=%v", applied, err)
	}
	bal, applied, err := store.MutateBalance(ctx, user, entry, add)
	if err != nil || applied {
		t.Fatalf("replayed award: applied=%v err=%v", applied, err)
	}
	if bal.Points != 10 || bal.Coins != 25 {
		t.Fatalf("replay changed balance: %+v", bal)
	}

	if _, err := store.PlaceCell(ctx, grid.Placement{UserID: user, Cell: 0, Item: "tree"}); err != nil {
		t.Fatalf("place cell: %v", err)
	}
	if _, err := store.PlaceCell(ctx, grid.Placement{UserID: user, Cell: 0, Item: "house"}); !stderrors.Is(err, apperrors.ErrAlreadyOccupied) {
		t.Fatalf("expected occupied, got %v", err)
	}

	req, err := store.CreateRequest(ctx, veto.Request{RequesterID: user, Item: "shoes", Amount: decimal.NewFromInt(80), Reason: "sale"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	voter := user + "-voter"
	if _, err := store.UpdateRequest(ctx, req.ID, func(r *veto.Request) error {
		r.Votes = append(r.Votes, veto.Vote{VoterID: voter, Verdict: veto.VerdictApprove, CastAt: time.Now().UTC()})
		return nil
	}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if n, err := store.CountApprovalsBy(ctx, voter); err != nil || n != 1 {
		t.Fatalf("expected one approval, got %d (%v)", n, err)
	}

	past := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := store.CreateAssignment(ctx, quest.Assignment{UserID: user, Kind: "zero_spend_day", Status: quest.StatusAccepted, AcceptedAt: past, ExpiresAt: past.Add(time.Hour)}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if n, err := store.ExpireAssignments(ctx, time.Now().UTC()); err != nil || n < 1 {
		t.Fatalf("expected an expired assignment, got %d (%v)", n, err)
	}

	if err := store.SaveResult(ctx, key, []byte(`{"ok":true}`), time.Minute); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if payload, ok, err := store.LoadResult(ctx, key); err != nil || !ok || string(payload) != `{"ok":true}` {
		t.Fatalf("load result: %q %v %v", payload, ok, err)
	}

	if err := store.DeleteGoal(ctx, g.ID); err != nil {
		t.Fatalf("delete goal: %v", err)
	}
}
