package triage

import "github.com/daviddao/mailtriage/internal/types"

// RunState tracks which irreversible side effects have fired during the
// current run, keyed by (messageID, kind). It exists so a retried sub-step
// cannot create a second draft or a second task append for the same
// message. One RunState per run, never shared across accounts.
type RunState struct {
	fired map[sideEffectKey]bool
}

type sideEffectKey struct {
	messageID string
	kind      string
}

// NewRunState returns an empty per-run side-effect set.
func NewRunState() *RunState {
	return &RunState{fired: make(map[sideEffectKey]bool)}
}

// ShouldApplySideEffect reports whether the given side effect may fire.
// False means it already fired this run.
func (s *RunState) ShouldApplySideEffect(messageID, kind string) bool {
	return !s.fired[sideEffectKey{messageID, kind}]
}

// MarkSideEffect records a successful side effect. Failed attempts are not
// marked, so a later retry may reattempt.
func (s *RunState) MarkSideEffect(messageID, kind string) {
	s.fired[sideEffectKey{messageID, kind}] = true
}

// ShouldProcess reports whether a message needs triage at all. Messages
// already carrying the Processed marker are skipped; this must be checked
// against the fetched remote state, not a local cache, since another client
// may have tagged the message since the last run.
func ShouldProcess(msg *types.MessageSnapshot) bool {
	return !msg.HasCategory(types.CategoryProcessed)
}
