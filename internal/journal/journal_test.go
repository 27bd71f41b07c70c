package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solsweep/solsweep/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "runs.db"), filepath.Join(dir, "runs.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func sampleEntry(runID string) Entry {
	wallet := solana.NewWallet().PublicKey()
	run := model.AggregateRun{Kind: "claim", Wallet: wallet}
	run.Record(model.OperationResult{
		Position: solana.NewWallet().PublicKey(),
		Pool:     solana.NewWallet().PublicKey(),
		Claimed:  true,
		FeeA:     1234,
	})
	return Entry{
		RunID:      runID,
		Kind:       run.Kind,
		Wallet:     wallet.String(),
		StartedAt:  time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		Run:        run,
	}
}

func TestJournalRecordGetList(t *testing.T) {
	j := openTestJournal(t)

	entry := sampleEntry("run-1")
	if err := j.Record(entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := j.Get("run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != "claim" || got.Run.Succeeded != 1 || got.Run.TotalFeeA != 1234 {
		t.Fatalf("unexpected round-tripped entry: %+v", got)
	}

	// Re-recording under the same id replaces, not duplicates.
	entry.Run.Record(model.OperationResult{Position: solana.NewWallet().PublicKey(), Claimed: true})
	if err := j.Record(entry); err != nil {
		t.Fatalf("Record update failed: %v", err)
	}
	entries, err := j.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry after upsert, got %d", len(entries))
	}
	if entries[0].Run.Attempted != 2 {
		t.Fatalf("expected updated payload, got %+v", entries[0].Run)
	}
}

func TestJournalGetMissingRun(t *testing.T) {
	j := openTestJournal(t)
	if _, err := j.Get("missing"); err == nil {
		t.Fatalf("expected error for missing run")
	}
}

func TestJournalRecordRequiresRunID(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Record(Entry{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}
