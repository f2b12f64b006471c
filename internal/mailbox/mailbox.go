// Package mailbox defines the provider-neutral contract the triage core
// uses for remote mailbox reads and writes. Concrete adapters live in the
// outlook and gmail subpackages.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/mailtriage/internal/types"
)

// ErrKind classifies remote failures so callers know which are retry-eligible.
type ErrKind int

const (
	// Permanent failures are message-level: the run continues without retry.
	Permanent ErrKind = iota
	// Transient failures (throttling, 5xx, timeouts) may be retried.
	Transient
	// NotFound means the remote object no longer exists. Rollback treats a
	// missing draft as already reversed.
	NotFound
)

// Error wraps a remote API failure with its classification.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retry-eligible remote failure.
func IsTransient(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == Transient
}

// IsNotFound reports whether err means the remote object is gone.
func IsNotFound(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == NotFound
}

// PatchFields carries the message facets to change; nil fields are untouched.
type PatchFields struct {
	Categories *[]string
	Flag       *types.FlagState
	IsRead     *bool
	Importance *string
}

// Client is the mailbox API surface the applier and rollback engine consume.
// All calls block; implementations carry their own per-call timeouts.
type Client interface {
	// FetchUnprocessed returns recent inbox messages that do not yet carry
	// the Processed marker, newest first.
	FetchUnprocessed(ctx context.Context, sinceDays, max int) ([]types.MessageSnapshot, error)

	// PatchMessage updates the given facets of one message.
	PatchMessage(ctx context.Context, messageID string, fields PatchFields) error

	// CreateDraftReply creates a draft reply and returns its remote ID.
	// Not idempotent: callers must not retry blindly.
	CreateDraftReply(ctx context.Context, messageID, htmlBody string) (string, error)

	// DeleteDraft removes a draft by its remote ID.
	DeleteDraft(ctx context.Context, draftID string) error

	// SendSummary sends a summary email. Not idempotent and not reversible.
	SendSummary(ctx context.Context, subject, htmlBody, to string) error

	// EnsureCategories aligns the account's category set (and colours where
	// the provider supports them) with the desired palette. Returns the
	// action taken per category: create, update, or unchanged.
	EnsureCategories(ctx context.Context, colors map[string]string) (map[string]string, error)
}

// Retries for idempotent calls (fetch, patch). Draft creation and send are
// never routed through here.
const (
	retryAttempts = 3
	retryBackoff  = 2 * time.Second
)

// Retry runs fn up to three times, backing off between attempts, as long as
// the failure is transient.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}
