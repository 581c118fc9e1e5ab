package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/autodata-labs/autodata/internal/orchestrator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "autodata.db")}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}, nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_SQLiteRequiresPath(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Fatal("expected error without sqlite path")
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	run := &orchestrator.RunRecord{
		ID:        uuid.New(),
		Goal:      "collect a dataset",
		Status:    orchestrator.RunRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Goal != run.Goal || got.Status != orchestrator.RunRunning {
		t.Errorf("got = %+v", got)
	}

	now := time.Now().UTC()
	run.Status = orchestrator.RunCompleted
	run.CompletedAt = &now
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetRun(ctx, run.ID)
	if got.Status != orchestrator.RunCompleted || got.CompletedAt == nil {
		t.Errorf("after update: %+v", got)
	}

	// Unknown runs.
	if _, err := store.GetRun(ctx, uuid.New()); err == nil {
		t.Fatal("expected not found error")
	}
	if err := store.UpdateRun(ctx, &orchestrator.RunRecord{ID: uuid.New()}); err == nil {
		t.Fatal("expected not found error on update")
	}
}

func TestStore_EnvelopesOrderedBySeq(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	runID := uuid.New()

	for _, seq := range []int{3, 1, 2} {
		env := &orchestrator.Envelope{
			ID:        uuid.New(),
			RunID:     runID,
			From:      orchestrator.WorkerPlanner,
			To:        orchestrator.ManagerName,
			Payload:   "payload",
			Attempt:   1,
			Seq:       seq,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.AppendEnvelope(ctx, env); err != nil {
			t.Fatalf("append seq %d: %v", seq, err)
		}
	}

	envs, err := store.ListEnvelopes(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("envelopes = %d, want 3", len(envs))
	}
	for i, env := range envs {
		if env.Seq != i+1 {
			t.Errorf("position %d has seq %d", i, env.Seq)
		}
	}

	// Other runs are not visible.
	other, _ := store.ListEnvelopes(ctx, uuid.New())
	if len(other) != 0 {
		t.Errorf("foreign envelopes = %d, want 0", len(other))
	}
}

func TestStore_ArtifactUpsert(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	runID := uuid.New()
	cs := orchestrator.NewContractSet()

	first, err := cs.Validate(orchestrator.WorkerTest, `{"status":"fail","summary":"broken","issues":["x"]}`)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := store.SaveArtifact(ctx, runID, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second, _ := cs.Validate(orchestrator.WorkerTest, `{"status":"pass","summary":"fixed","issues":[]}`)
	if err := store.SaveArtifact(ctx, runID, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	arts, err := store.ListArtifacts(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("artifacts = %d, want 1 (upsert)", len(arts))
	}
	if string(arts[orchestrator.ArtifactTestReport]) != string(second.Raw) {
		t.Errorf("artifact = %s, want latest", arts[orchestrator.ArtifactTestReport])
	}
}
