package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/models"
	"github.com/zulandar/issuerelay/internal/telegraph"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testJournal creates a Journal on a private in-memory SQLite database.
func testJournal(t *testing.T) (*Journal, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	j, err := New(gdb, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return j, gdb
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRecordAndList(t *testing.T) {
	j, _ := testJournal(t)
	ctx := context.Background()

	outcomes := []telegraph.Outcome{
		{EventID: 1, EventType: telegraph.EventIssues, Status: telegraph.OutcomeDelivered, Text: "<b>Issue opened</b>"},
		{EventID: 2, EventType: telegraph.EventPush, Status: telegraph.OutcomeSkipped},
		{EventID: 3, EventType: telegraph.EventIssueComment, Status: telegraph.OutcomeFailed, Text: "hi", Err: errors.New("send: 400")},
		{EventID: 4, EventType: telegraph.EventPullRequest, Status: telegraph.OutcomeDeliveredPlain, Text: "pr"},
	}
	for _, o := range outcomes {
		if err := j.Record(ctx, o); err != nil {
			t.Fatalf("Record(%d): %v", o.EventID, err)
		}
	}

	rows, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[0].EventID != 4 || rows[3].EventID != 1 {
		t.Errorf("order = %d..%d, want newest first", rows[0].EventID, rows[3].EventID)
	}

	failed, err := j.List(ctx, Filter{Status: "failed"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed rows = %d, want 1", len(failed))
	}
	got := failed[0]
	if got.EventID != 3 || got.EventType != "IssueCommentEvent" || got.Text != "hi" || got.Error != "send: 400" {
		t.Errorf("failed row = %+v", got)
	}

	limited, err := j.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited rows = %d, want 2", len(limited))
	}
}

func TestPrune(t *testing.T) {
	j, gdb := testJournal(t)
	ctx := context.Background()

	old := models.Delivery{EventID: 1, EventType: "PushEvent", Status: "skipped", CreatedAt: time.Now().Add(-30 * 24 * time.Hour)}
	if err := gdb.Create(&old).Error; err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, telegraph.Outcome{EventID: 2, EventType: telegraph.EventPush, Status: telegraph.OutcomeDelivered}); err != nil {
		t.Fatal(err)
	}

	n, err := j.Prune(ctx, time.Now().Add(-14*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	rows, _ := j.List(ctx, Filter{})
	if len(rows) != 1 || rows[0].EventID != 2 {
		t.Errorf("remaining = %+v", rows)
	}
}

func TestAcquireLease(t *testing.T) {
	j, _ := testJournal(t)
	ctx := context.Background()

	lease, err := j.AcquireLease(ctx, "o/r", "-100", "host-a:1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if lease.ID == 0 || lease.Status != "active" {
		t.Errorf("lease = %+v", lease)
	}

	_, err = j.AcquireLease(ctx, "o/r", "-100", "host-b:2", time.Minute)
	if !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("second acquire err = %v, want ErrLeaseHeld", err)
	}
	if !strings.Contains(err.Error(), "host-a:1") {
		t.Errorf("err = %v, want holder named", err)
	}

	// A different channel is independent.
	if _, err := j.AcquireLease(ctx, "o/r", "-200", "host-b:2", time.Minute); err != nil {
		t.Errorf("acquire other channel: %v", err)
	}
}

func TestAcquireLease_ReclaimsStale(t *testing.T) {
	j, gdb := testJournal(t)
	ctx := context.Background()

	stale, err := j.AcquireLease(ctx, "o/r", "-100", "host-a:1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	gdb.Model(&models.RelayLease{}).Where("id = ?", stale.ID).Update("last_heartbeat", time.Now().Add(-time.Hour))

	fresh, err := j.AcquireLease(ctx, "o/r", "-100", "host-b:2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if fresh.ID == stale.ID {
		t.Error("expected a new lease")
	}
	var old models.RelayLease
	gdb.First(&old, stale.ID)
	if old.Status != "expired" || old.ReleasedAt == nil {
		t.Errorf("stale lease = %+v, want expired", old)
	}
	if err := j.Heartbeat(ctx, stale.ID); err == nil {
		t.Error("heartbeat on expired lease should fail")
	}
}

func TestHeartbeatAndRelease(t *testing.T) {
	j, gdb := testJournal(t)
	ctx := context.Background()

	lease, err := j.AcquireLease(ctx, "o/r", "-100", "host-a:1", 0)
	if err != nil {
		t.Fatal(err)
	}
	gdb.Model(&models.RelayLease{}).Where("id = ?", lease.ID).Update("last_heartbeat", time.Now().Add(-time.Minute))
	if err := j.Heartbeat(ctx, lease.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	var got models.RelayLease
	gdb.First(&got, lease.ID)
	if time.Since(got.LastHeartbeat) > 10*time.Second {
		t.Errorf("heartbeat not refreshed: %v", got.LastHeartbeat)
	}

	if err := j.ReleaseLease(ctx, lease.ID); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	if err := j.ReleaseLease(ctx, lease.ID); err == nil {
		t.Error("second release should fail")
	}
	if _, err := j.AcquireLease(ctx, "o/r", "-100", "host-b:2", 0); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestKeepLease(t *testing.T) {
	j, _ := testJournal(t)
	lease, err := j.AcquireLease(context.Background(), "o/r", "-100", "host-a:1", 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.KeepLease(ctx, lease.ID, 10*time.Millisecond) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("KeepLease after cancel = %v, want nil", err)
	}

	// Losing the lease stops the keeper with an error.
	if err := j.ReleaseLease(context.Background(), lease.ID); err != nil {
		t.Fatal(err)
	}
	err = j.KeepLease(context.Background(), lease.ID, 10*time.Millisecond)
	if err == nil {
		t.Error("expected error for released lease")
	}
}
