package triage

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/daviddao/mailtriage/internal/config"
	"github.com/daviddao/mailtriage/internal/ledger"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/tasks"
	"github.com/daviddao/mailtriage/internal/types"
)

// Decider produces a validated triage decision for one message. Retries, if
// any, are the decider's own concern.
type Decider interface {
	Decide(ctx context.Context, msg *types.MessageSnapshot) (*types.TriageDecision, error)
}

// Runner sequences the forward pipeline (fetch, decide, apply, record) and
// the rollback path. Accounts have disjoint ledger rows, task files, and
// mailboxes, so distinct accounts may run in parallel; within one account
// everything is sequential and serialized by an advisory lock file.
type Runner struct {
	Config     *config.Config
	Ledger     *ledger.Store
	Decider    Decider
	NewMailbox func(ctx context.Context, account config.Account) (mailbox.Client, error)
	Quiet      bool
}

// Run executes one forward triage run. runID may be empty, in which case a
// fresh one is generated. Message-level failures are reported in the run
// report; the returned error is reserved for run-fatal conditions (ledger
// I/O, locking, fetch).
func (r *Runner) Run(ctx context.Context, account config.Account, runID string) (*types.RunReport, error) {
	dir, err := r.Config.AccountDir(account.Email)
	if err != nil {
		return nil, err
	}
	unlock, err := lockAccount(dir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	mbox, err := r.NewMailbox(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("mailbox for %s: %w", account.Email, err)
	}

	if runID == "" {
		runID = ledger.NewRunID()
	}
	report := &types.RunReport{Account: account.Email, RunID: runID}

	// Incremental lookback once the account has any prior run.
	days := r.Config.Triage.LookbackDaysInitial
	if _, err := r.Ledger.LastRun(account.Email); err == nil {
		days = r.Config.Triage.LookbackDaysIncremental
	}

	if err := r.Ledger.BeginRun(account.Email, runID); err != nil {
		return nil, err
	}
	// The ledger is finalized even on abort so partial runs stay
	// rollback-able up to the last recorded mutation.
	finalized := false
	finalize := func() {
		if finalized {
			return
		}
		finalized = true
		summary := fmt.Sprintf("processed=%d skipped=%d drafts=%d tasks=%d failures=%d",
			report.Processed, report.Skipped, report.Drafts, report.Tasks, report.Failures)
		if err := r.Ledger.Finalize(runID, summary); err != nil && !r.Quiet {
			fmt.Fprintf(os.Stderr, "warning: finalize run %s: %v\n", runID, err)
		}
	}
	defer finalize()

	var msgs []types.MessageSnapshot
	err = mailbox.Retry(ctx, func() error {
		var ferr error
		msgs, ferr = mbox.FetchUnprocessed(ctx, days, r.Config.Triage.MaxMessagesPerRun)
		return ferr
	})
	if err != nil {
		return report, fmt.Errorf("fetch unprocessed for %s: %w", account.Email, err)
	}

	applier := &Applier{
		Mailbox:      mbox,
		Tasks:        tasks.New(dir),
		Ledger:       r.Ledger,
		DraftReplies: r.Config.Triage.DraftReplies,
		CreateTasks:  r.Config.Triage.CreateTasks,
	}
	state := NewRunState()

	var digest []digestEntry
	for i := range msgs {
		msg := &msgs[i]
		if !ShouldProcess(msg) {
			report.Skipped++
			continue
		}

		decision, err := r.Decider.Decide(ctx, msg)
		if err != nil {
			// Bad or missing decision skips the message; the run continues.
			report.Skipped++
			report.Messages = append(report.Messages, types.MessageOutcome{
				MessageID: msg.ID, Subject: msg.Subject, Skipped: true, Error: err.Error(),
			})
			if !r.Quiet {
				fmt.Fprintf(os.Stderr, "  ! skipping %s: %v\n", msg.ID, err)
			}
			continue
		}

		out, err := applier.Apply(ctx, msg, decision, runID, state)
		if out != nil {
			report.Messages = append(report.Messages, *out)
			if out.Error != "" {
				report.Failures++
			} else {
				report.Processed++
			}
			if out.DraftCreated {
				report.Drafts++
			}
			if out.TaskAppended {
				report.Tasks++
			}
		}
		if err != nil {
			// Ledger failure: continuing to mutate without a durable record
			// would be unsafe. Abort cleanly; everything recorded so far is
			// still reversible.
			return report, fmt.Errorf("run %s aborted: %w", runID, err)
		}

		if decision.IsInformational && decision.Summary != "" {
			digest = append(digest, digestEntry{
				Subject: msg.Subject, From: msg.From, FromName: msg.FromName,
				Summary: decision.Summary, WebLink: msg.WebLink,
			})
		}
	}

	if r.Config.Triage.SendSummaryEmail && len(digest) > 0 && r.Config.Triage.SummaryEmailTo != "" {
		subject := fmt.Sprintf("Informational email summary for %s", account.Email)
		to := r.Config.Triage.SummaryEmailTo
		if err := mbox.SendSummary(ctx, subject, digestHTML(digest, account.Email), to); err != nil {
			report.Failures++
			if !r.Quiet {
				fmt.Fprintf(os.Stderr, "  ! summary email: %v\n", err)
			}
		} else {
			report.SummarySent = true
			if err := applier.RecordSummarySent(runID, account.Email, to, subject); err != nil {
				return report, fmt.Errorf("run %s aborted: ledger append: %w", runID, err)
			}
		}
	}

	finalize()
	return report, nil
}

// Rollback reverses the identified run for the account. An empty runID
// resolves to the account's most recent run.
func (r *Runner) Rollback(ctx context.Context, account config.Account, runID string) (*types.RollbackReport, error) {
	dir, err := r.Config.AccountDir(account.Email)
	if err != nil {
		return nil, err
	}
	// Same lock as the forward path: a rollback must never truncate the
	// task file while a forward run is mid-append.
	unlock, err := lockAccount(dir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if runID == "" {
		runID, err = r.Ledger.LastRun(account.Email)
		if err != nil {
			return nil, fmt.Errorf("resolve last run for %s: %w", account.Email, err)
		}
	}

	info, err := r.Ledger.Run(runID)
	if err != nil {
		return nil, err
	}
	if info.Account != account.Email {
		return nil, fmt.Errorf("run %s belongs to %s: %w", runID, info.Account, ledger.ErrNotFound)
	}

	mbox, err := r.NewMailbox(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("mailbox for %s: %w", account.Email, err)
	}

	rb := &Rollbacker{Mailbox: mbox, Tasks: tasks.New(dir), Ledger: r.Ledger}
	return rb.Rollback(ctx, account.Email, runID)
}

// lockAccount takes the per-account advisory lock, failing fast if another
// run or rollback holds it.
func lockAccount(dir string) (func(), error) {
	path := filepath.Join(dir, ".lock")
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open account lock: %w", err)
	}
	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		fd.Close()
		return nil, fmt.Errorf("account busy (another run or rollback in progress): %w", err)
	}
	return func() {
		unix.Flock(int(fd.Fd()), unix.LOCK_UN)
		fd.Close()
	}, nil
}

type digestEntry struct {
	Subject  string
	From     string
	FromName string
	Summary  string
	WebLink  string
}

// digestHTML renders the informational digest as a summary email body.
func digestHTML(entries []digestEntry, accountEmail string) string {
	var items []string
	for _, e := range entries {
		subj := e.Subject
		if subj == "" {
			subj = "(no subject)"
		}
		who := e.FromName
		if who == "" {
			who = e.From
		}
		header := html.EscapeString(subj)
		if who != "" {
			header = fmt.Sprintf("%s (from %s)", header, html.EscapeString(who))
		}
		if e.WebLink != "" {
			header = fmt.Sprintf(`<a href="%s">%s</a>`, e.WebLink, header)
		}
		items = append(items, fmt.Sprintf("<li><strong>%s</strong><br>%s</li>",
			header, html.EscapeString(e.Summary)))
	}
	return fmt.Sprintf("<p>Informational email summary for <strong>%s</strong>.</p><ul>%s</ul>",
		html.EscapeString(accountEmail), strings.Join(items, ""))
}
