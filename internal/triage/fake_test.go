package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/types"
)

// fakeMailbox records every write the pipeline makes so tests can assert
// exact call sequences.
type patchCall struct {
	messageID string
	fields    mailbox.PatchFields
}

type fakeMailbox struct {
	inbox    []types.MessageSnapshot
	patches  []patchCall
	drafts   map[string]string
	draftSeq int
	sent     []string

	failPatch func(fields mailbox.PatchFields) error
	failDraft error
	failSend  error
}

func newFakeMailbox(inbox ...types.MessageSnapshot) *fakeMailbox {
	return &fakeMailbox{inbox: inbox, drafts: make(map[string]string)}
}

func (f *fakeMailbox) FetchUnprocessed(ctx context.Context, sinceDays, max int) ([]types.MessageSnapshot, error) {
	out := make([]types.MessageSnapshot, len(f.inbox))
	copy(out, f.inbox)
	if max < len(out) {
		out = out[:max]
	}
	return out, nil
}

func (f *fakeMailbox) PatchMessage(ctx context.Context, messageID string, fields mailbox.PatchFields) error {
	if f.failPatch != nil {
		if err := f.failPatch(fields); err != nil {
			return err
		}
	}
	f.patches = append(f.patches, patchCall{messageID: messageID, fields: fields})
	return nil
}

func (f *fakeMailbox) CreateDraftReply(ctx context.Context, messageID, htmlBody string) (string, error) {
	if f.failDraft != nil {
		return "", f.failDraft
	}
	f.draftSeq++
	id := fmt.Sprintf("draft-%d", f.draftSeq)
	f.drafts[id] = htmlBody
	return id, nil
}

func (f *fakeMailbox) DeleteDraft(ctx context.Context, draftID string) error {
	if _, ok := f.drafts[draftID]; !ok {
		return &mailbox.Error{Kind: mailbox.NotFound, Op: "delete draft", Err: errors.New("no such draft")}
	}
	delete(f.drafts, draftID)
	return nil
}

func (f *fakeMailbox) SendSummary(ctx context.Context, subject, htmlBody, to string) error {
	if f.failSend != nil {
		return f.failSend
	}
	f.sent = append(f.sent, subject)
	return nil
}

func (f *fakeMailbox) EnsureCategories(ctx context.Context, colors map[string]string) (map[string]string, error) {
	actions := make(map[string]string, len(colors))
	for name := range colors {
		actions[name] = "unchanged"
	}
	return actions, nil
}

func transientErr(op string) error {
	return &mailbox.Error{Kind: mailbox.Transient, Op: op, Err: errors.New("throttled")}
}

func permanentErr(op string) error {
	return &mailbox.Error{Kind: mailbox.Permanent, Op: op, Err: errors.New("rejected")}
}
