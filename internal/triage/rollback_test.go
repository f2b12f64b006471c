package triage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/daviddao/mailtriage/internal/ledger"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/tasks"
	"github.com/daviddao/mailtriage/internal/types"
)

// applyUrgent runs the standard urgent scenario and returns everything the
// rollback tests need to undo it.
func applyUrgent(t *testing.T, fake *fakeMailbox) (*Rollbacker, *ledger.Store, string) {
	t.Helper()
	applier, store, dir := newTestApplier(t, fake)
	out, err := applier.Apply(context.Background(), urgentMessage(), urgentDecision(), "run-1", NewRunState())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Error != "" {
		t.Fatalf("apply outcome error: %s", out.Error)
	}
	return &Rollbacker{Mailbox: fake, Tasks: tasks.New(dir), Ledger: store}, store, dir
}

func TestRollbackRestoresEverything(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, dir := applyUrgent(t, fake)
	forwardPatches := len(fake.patches)

	report, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if report.Failed() {
		t.Fatalf("rollback failed: %+v", report)
	}
	if report.Reversed != 5 {
		t.Fatalf("reversed = %d, want 5", report.Reversed)
	}

	// Draft deleted, task file emptied.
	if len(fake.drafts) != 0 {
		t.Fatalf("drafts left: %d", len(fake.drafts))
	}
	data, err := os.ReadFile(filepath.Join(dir, "tasks.md"))
	if err != nil {
		t.Fatalf("read tasks: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("task file not emptied: %q", string(data))
	}

	// The reversal patches put the original values back.
	reversals := fake.patches[forwardPatches:]
	for _, call := range reversals {
		switch {
		case call.fields.Categories != nil:
			if len(*call.fields.Categories) != 0 {
				t.Fatalf("categories restored to %v, want empty", *call.fields.Categories)
			}
		case call.fields.Flag != nil:
			if call.fields.Flag.Status != types.FlagStatusNotFlagged {
				t.Fatalf("flag restored to %q", call.fields.Flag.Status)
			}
		case call.fields.Importance != nil:
			if *call.fields.Importance != types.ImportanceNormal {
				t.Fatalf("importance restored to %q", *call.fields.Importance)
			}
		}
	}
}

func TestRollbackRunsNewestFirst(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, _ := applyUrgent(t, fake)

	report, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	for i := 1; i < len(report.Results); i++ {
		if report.Results[i].RecordID >= report.Results[i-1].RecordID {
			t.Fatalf("results not newest-first: %d then %d",
				report.Results[i-1].RecordID, report.Results[i].RecordID)
		}
	}
	if report.Results[0].Kind != types.KindTaskAppended {
		t.Fatalf("first reversal = %q, want the last forward mutation", report.Results[0].Kind)
	}
}

func TestRollbackSecondAttemptRejected(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, _ := applyUrgent(t, fake)

	if _, err := rb.Rollback(context.Background(), "a@example.com", "run-1"); err != nil {
		t.Fatalf("first rollback: %v", err)
	}
	_, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if !errors.Is(err, ledger.ErrAlreadyRolledBack) {
		t.Fatalf("second rollback = %v, want ErrAlreadyRolledBack", err)
	}
}

func TestRollbackUnknownRun(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, _ := applyUrgent(t, fake)

	_, err := rb.Rollback(context.Background(), "a@example.com", "no-such-run")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("rollback unknown run = %v, want ErrNotFound", err)
	}
}

func TestRollbackMissingDraftCountsAsReversed(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, _ := applyUrgent(t, fake)

	// The user already deleted the draft themselves.
	for id := range fake.drafts {
		delete(fake.drafts, id)
	}

	report, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if report.Failed() {
		t.Fatalf("rollback failed: %+v", report)
	}
	for _, res := range report.Results {
		if res.Kind == types.KindDraftCreated && res.Outcome != types.OutcomeReversed {
			t.Fatalf("missing draft outcome = %q, want reversed", res.Outcome)
		}
	}
}

func TestRollbackTaskConflictLeavesFile(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, dir := applyUrgent(t, fake)

	// Someone appended to the task file after the run.
	path := filepath.Join(dir, "tasks.md")
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open tasks: %v", err)
	}
	if _, err := fd.WriteString("- manual entry\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	fd.Close()
	before, _ := os.ReadFile(path)

	report, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if report.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", report.Conflicts)
	}
	if !report.Failed() {
		t.Fatal("conflicted rollback not reported as failed")
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("task file changed despite conflict: %q -> %q", before, after)
	}

	// The conflict does not stop the other records from reversing.
	if report.Reversed != 4 {
		t.Fatalf("reversed = %d, want 4", report.Reversed)
	}
}

func TestRollbackSummaryNotReversible(t *testing.T) {
	fake := newFakeMailbox()
	applier, store, dir := newTestApplier(t, fake)
	if err := applier.RecordSummarySent("run-1", "a@example.com", "me@example.com", "digest"); err != nil {
		t.Fatalf("record summary: %v", err)
	}

	rb := &Rollbacker{Mailbox: fake, Tasks: tasks.New(dir), Ledger: store}
	report, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if report.NotReversible != 1 {
		t.Fatalf("not reversible = %d, want 1", report.NotReversible)
	}
	if report.Failed() {
		t.Fatal("not-reversible alone should not fail the rollback")
	}
}

func TestRollbackRemoteErrorStillConsumesLedger(t *testing.T) {
	fake := newFakeMailbox()
	rb, _, _ := applyUrgent(t, fake)

	// Every reversal patch now fails permanently.
	fake.failPatch = func(mailbox.PatchFields) error { return permanentErr("patch") }

	report, err := rb.Rollback(context.Background(), "a@example.com", "run-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if report.RemoteErrors != 3 {
		t.Fatalf("remote errors = %d, want 3", report.RemoteErrors)
	}
	if !report.Failed() {
		t.Fatal("rollback with remote errors not reported as failed")
	}

	// The ledger is consumed even after a partial rollback; a re-attempt
	// could double-reverse the records that did succeed.
	_, err = rb.Rollback(context.Background(), "a@example.com", "run-1")
	if !errors.Is(err, ledger.ErrAlreadyRolledBack) {
		t.Fatalf("re-rollback = %v, want ErrAlreadyRolledBack", err)
	}
}
