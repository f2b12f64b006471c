package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daviddao/mailtriage/internal/ledger"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/tasks"
	"github.com/daviddao/mailtriage/internal/types"
)

// Rollbacker replays a run's ledger in reverse, applying each record's
// compensating action. Records fail independently; the ledger is marked
// consumed afterwards either way, because re-attempting a record that may
// already have been processed is not safe by default.
type Rollbacker struct {
	Mailbox mailbox.Client
	Tasks   *tasks.File
	Ledger  *ledger.Store
}

// Rollback reverses the identified run. Returns ledger.ErrAlreadyRolledBack
// when the run was already consumed, ledger.ErrNotFound for unknown runs.
func (r *Rollbacker) Rollback(ctx context.Context, account, runID string) (*types.RollbackReport, error) {
	done, err := r.Ledger.RolledBack(runID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("run %s: %w", runID, ledger.ErrAlreadyRolledBack)
	}

	records, err := r.Ledger.Read(runID)
	if err != nil {
		return nil, err
	}

	report := &types.RollbackReport{Account: account, RunID: runID}

	// Later mutations are undone first: a later category patch may have
	// been computed relative to an earlier one.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		result := r.revert(ctx, rec)
		report.Results = append(report.Results, result)
		switch result.Outcome {
		case types.OutcomeReversed:
			report.Reversed++
		case types.OutcomeConflict:
			report.Conflicts++
		case types.OutcomeNotReversible:
			report.NotReversible++
		case types.OutcomeRemoteError:
			report.RemoteErrors++
		}
	}

	if err := r.Ledger.MarkRolledBack(runID); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Rollbacker) revert(ctx context.Context, rec types.MutationRecord) types.RecordResult {
	result := types.RecordResult{RecordID: rec.ID, MessageID: rec.MessageID, Kind: rec.Kind}

	fail := func(outcome string, err error) types.RecordResult {
		result.Outcome = outcome
		result.Detail = err.Error()
		return result
	}

	patch := func(fields mailbox.PatchFields) types.RecordResult {
		err := mailbox.Retry(ctx, func() error {
			return r.Mailbox.PatchMessage(ctx, rec.MessageID, fields)
		})
		if err != nil {
			return fail(types.OutcomeRemoteError, err)
		}
		result.Outcome = types.OutcomeReversed
		return result
	}

	switch rec.Kind {
	case types.KindCategoryPatch:
		var before types.CategoryState
		if err := json.Unmarshal(rec.Before, &before); err != nil {
			return fail(types.OutcomeRemoteError, fmt.Errorf("decode before state: %w", err))
		}
		cats := before.Categories
		if cats == nil {
			cats = []string{}
		}
		return patch(mailbox.PatchFields{Categories: &cats})

	case types.KindFlagPatch:
		var before types.FlagState
		if err := json.Unmarshal(rec.Before, &before); err != nil {
			return fail(types.OutcomeRemoteError, fmt.Errorf("decode before state: %w", err))
		}
		return patch(mailbox.PatchFields{Flag: &before})

	case types.KindReadStatePatch:
		var before types.ReadState
		if err := json.Unmarshal(rec.Before, &before); err != nil {
			return fail(types.OutcomeRemoteError, fmt.Errorf("decode before state: %w", err))
		}
		return patch(mailbox.PatchFields{IsRead: &before.IsRead})

	case types.KindImportancePatch:
		var before types.ImportanceState
		if err := json.Unmarshal(rec.Before, &before); err != nil {
			return fail(types.OutcomeRemoteError, fmt.Errorf("decode before state: %w", err))
		}
		return patch(mailbox.PatchFields{Importance: &before.Importance})

	case types.KindDraftCreated:
		var info types.DraftInfo
		if err := json.Unmarshal(rec.Extra, &info); err != nil {
			return fail(types.OutcomeRemoteError, fmt.Errorf("decode draft info: %w", err))
		}
		err := r.Mailbox.DeleteDraft(ctx, info.DraftID)
		if err != nil && !mailbox.IsNotFound(err) {
			return fail(types.OutcomeRemoteError, err)
		}
		// Already-deleted drafts count as reversed: the goal state holds.
		result.Outcome = types.OutcomeReversed
		return result

	case types.KindTaskAppended:
		var info types.TaskAppendInfo
		if err := json.Unmarshal(rec.Extra, &info); err != nil {
			return fail(types.OutcomeConflict, fmt.Errorf("decode append info: %w", err))
		}
		if err := r.Tasks.Revert(info); err != nil {
			if errors.Is(err, tasks.ErrConflict) {
				return fail(types.OutcomeConflict, err)
			}
			return fail(types.OutcomeRemoteError, err)
		}
		result.Outcome = types.OutcomeReversed
		return result

	case types.KindSummarySent:
		result.Outcome = types.OutcomeNotReversible
		result.Detail = "summary emails cannot be unsent"
		return result

	default:
		result.Outcome = types.OutcomeConflict
		result.Detail = fmt.Sprintf("unknown mutation kind %q", rec.Kind)
		return result
	}
}
