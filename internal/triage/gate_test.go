package triage

import (
	"testing"

	"github.com/daviddao/mailtriage/internal/types"
)

func TestShouldProcess(t *testing.T) {
	fresh := &types.MessageSnapshot{ID: "m1", Categories: []string{"Work"}}
	if !ShouldProcess(fresh) {
		t.Fatal("untagged message should be processed")
	}

	tagged := &types.MessageSnapshot{ID: "m2", Categories: []string{"Work", types.CategoryProcessed}}
	if ShouldProcess(tagged) {
		t.Fatal("tagged message should be skipped")
	}
}

func TestRunStateGatesSideEffects(t *testing.T) {
	state := NewRunState()

	if !state.ShouldApplySideEffect("m1", types.KindDraftCreated) {
		t.Fatal("fresh side effect blocked")
	}
	state.MarkSideEffect("m1", types.KindDraftCreated)
	if state.ShouldApplySideEffect("m1", types.KindDraftCreated) {
		t.Fatal("fired side effect allowed again")
	}

	// Other kinds and other messages are independent.
	if !state.ShouldApplySideEffect("m1", types.KindTaskAppended) {
		t.Fatal("different kind blocked")
	}
	if !state.ShouldApplySideEffect("m2", types.KindDraftCreated) {
		t.Fatal("different message blocked")
	}
}

func TestRunStateUnmarkedFailuresMayRetry(t *testing.T) {
	state := NewRunState()

	// A failed attempt is never marked, so a later pass may retry it.
	if !state.ShouldApplySideEffect("m1", types.KindTaskAppended) {
		t.Fatal("first attempt blocked")
	}
	if !state.ShouldApplySideEffect("m1", types.KindTaskAppended) {
		t.Fatal("retry after unmarked failure blocked")
	}
}
