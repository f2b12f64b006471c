package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/mailtriage/internal/ledger"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/tasks"
	"github.com/daviddao/mailtriage/internal/types"
)

// Applier performs the mutations for one triage decision and records each
// one in the ledger before moving to the next step. It is the only
// component that writes to the mailbox or the task file.
type Applier struct {
	Mailbox      mailbox.Client
	Tasks        *tasks.File
	Ledger       *ledger.Store
	DraftReplies bool
	CreateTasks  bool

	// Now is a clock hook for tests; defaults to time.Now.
	Now func() time.Time
}

func (a *Applier) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Apply mutates one message per the decision. Facets whose proposed value
// equals the current value emit no record and no API call. The step order
// is fixed: categories, flag, read state, importance, draft, task. A remote
// failure aborts the remaining steps for this message and is reported in
// the outcome; already-applied steps are NOT rolled back here — that is the
// ledger's job. The returned error is non-nil only for ledger append
// failures, which are fatal to the whole run.
func (a *Applier) Apply(ctx context.Context, msg *types.MessageSnapshot, d *types.TriageDecision, runID string, state *RunState) (*types.MessageOutcome, error) {
	out := &types.MessageOutcome{
		MessageID: msg.ID,
		Subject:   msg.Subject,
		Category:  d.PrimaryCategory,
		Flag:      d.Flag,
	}

	record := func(rec *types.MutationRecord) error {
		rec.RunID = runID
		rec.Account = msg.Account
		rec.CreatedAt = a.now().UTC().Format(time.RFC3339)
		if err := a.Ledger.Append(rec); err != nil {
			return fmt.Errorf("ledger append: %w", err)
		}
		out.Records++
		return nil
	}

	patch := func(fields mailbox.PatchFields) error {
		return mailbox.Retry(ctx, func() error {
			return a.Mailbox.PatchMessage(ctx, msg.ID, fields)
		})
	}

	// 1. Categories: existing set plus decision plus Processed marker.
	want := desiredCategories(msg, d)
	if !sameCategories(want, msg.Categories) {
		if err := patch(mailbox.PatchFields{Categories: &want}); err != nil {
			out.Error = err.Error()
			return out, nil
		}
		if err := record(&types.MutationRecord{
			MessageID: msg.ID,
			Kind:      types.KindCategoryPatch,
			Before:    types.MustJSON(types.CategoryState{Categories: msg.Categories}),
			After:     types.MustJSON(types.CategoryState{Categories: want}),
		}); err != nil {
			return out, err
		}
	}

	// 2. Followup flag.
	if flag := BuildFollowupFlag(d.Flag, a.now()); flag != nil && *flag != msg.Flag {
		if err := patch(mailbox.PatchFields{Flag: flag}); err != nil {
			out.Error = err.Error()
			return out, nil
		}
		if err := record(&types.MutationRecord{
			MessageID: msg.ID,
			Kind:      types.KindFlagPatch,
			Before:    types.MustJSON(msg.Flag),
			After:     types.MustJSON(*flag),
		}); err != nil {
			return out, err
		}
	}

	// 3. Read state.
	if isRead := readStateFor(d); isRead != msg.IsRead {
		if err := patch(mailbox.PatchFields{IsRead: &isRead}); err != nil {
			out.Error = err.Error()
			return out, nil
		}
		if err := record(&types.MutationRecord{
			MessageID: msg.ID,
			Kind:      types.KindReadStatePatch,
			Before:    types.MustJSON(types.ReadState{IsRead: msg.IsRead}),
			After:     types.MustJSON(types.ReadState{IsRead: isRead}),
		}); err != nil {
			return out, err
		}
	}

	// 4. Importance.
	if imp := ImportanceFor(d.PrimaryCategory); imp != msg.Importance {
		if err := patch(mailbox.PatchFields{Importance: &imp}); err != nil {
			out.Error = err.Error()
			return out, nil
		}
		if err := record(&types.MutationRecord{
			MessageID: msg.ID,
			Kind:      types.KindImportancePatch,
			Before:    types.MustJSON(types.ImportanceState{Importance: msg.Importance}),
			After:     types.MustJSON(types.ImportanceState{Importance: imp}),
		}); err != nil {
			return out, err
		}
	}

	// 5. Draft reply. Never retried: a timed-out create may have succeeded
	// remotely, and the gate only defends within what we observed.
	if a.DraftReplies && d.NeedsReply && d.DraftReplyBody != "" &&
		state.ShouldApplySideEffect(msg.ID, types.KindDraftCreated) {
		draftID, err := a.Mailbox.CreateDraftReply(ctx, msg.ID, htmlBody(d.DraftReplyBody))
		if err != nil {
			out.Error = err.Error()
			return out, nil
		}
		state.MarkSideEffect(msg.ID, types.KindDraftCreated)
		out.DraftCreated = true
		if err := record(&types.MutationRecord{
			MessageID: msg.ID,
			Kind:      types.KindDraftCreated,
			Extra:     types.MustJSON(types.DraftInfo{DraftID: draftID}),
		}); err != nil {
			return out, err
		}
	}

	// 6. Task append.
	if a.CreateTasks && d.CreateTask && d.TaskSummary != "" &&
		state.ShouldApplySideEffect(msg.ID, types.KindTaskAppended) {
		info, err := a.Tasks.Append(taskLine(msg, d))
		if err != nil {
			out.Error = err.Error()
			return out, nil
		}
		state.MarkSideEffect(msg.ID, types.KindTaskAppended)
		out.TaskAppended = true
		if err := record(&types.MutationRecord{
			MessageID: msg.ID,
			Kind:      types.KindTaskAppended,
			Extra:     types.MustJSON(*info),
		}); err != nil {
			return out, err
		}
	}

	return out, nil
}

// RecordSummarySent logs the (irreversible) summary email in the ledger.
func (a *Applier) RecordSummarySent(runID, account, to, subject string) error {
	return a.Ledger.Append(&types.MutationRecord{
		RunID:   runID,
		Account: account,
		Kind:    types.KindSummarySent,
		After:   types.MustJSON(map[string]string{"to": to, "subject": subject}),
	})
}

// htmlBody converts plain decision text into a minimal HTML body.
func htmlBody(text string) string {
	return "<p>" + strings.Join(strings.Split(text, "\n"), "<br>") + "</p>"
}

// taskLine renders one task file entry for a message.
func taskLine(msg *types.MessageSnapshot, d *types.TriageDecision) string {
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	if msg.WebLink != "" {
		return fmt.Sprintf("- [%s](%s) - %s\n", subject, msg.WebLink, d.TaskSummary)
	}
	return fmt.Sprintf("- %s - %s\n", subject, d.TaskSummary)
}
