package triage

import (
	"testing"
	"time"

	"github.com/daviddao/mailtriage/internal/types"
)

func TestImportanceFor(t *testing.T) {
	cases := map[string]string{
		types.CategoryUrgent:        types.ImportanceHigh,
		types.CategoryPriority1:     types.ImportanceHigh,
		types.CategoryPriority2:     types.ImportanceNormal,
		types.CategoryInformational: types.ImportanceNormal,
		types.CategoryPriority3:     types.ImportanceLow,
		types.CategoryMarketing:     types.ImportanceLow,
		types.CategoryNoReplyNeeded: types.ImportanceLow,
		"Something else":            types.ImportanceNormal,
	}
	for category, want := range cases {
		if got := ImportanceFor(category); got != want {
			t.Errorf("ImportanceFor(%q) = %q, want %q", category, got, want)
		}
	}
}

func TestBuildFollowupFlagToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC) // a Tuesday
	flag := BuildFollowupFlag(types.FlagToday, now)
	if flag == nil {
		t.Fatal("nil flag for Today")
	}
	if flag.Status != types.FlagStatusFlagged {
		t.Fatalf("status = %q", flag.Status)
	}
	if flag.Due != "2026-03-10T23:59:00Z" {
		t.Fatalf("due = %q", flag.Due)
	}
}

func TestBuildFollowupFlagTomorrow(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	flag := BuildFollowupFlag(types.FlagTomorrow, now)
	if flag.Start != "2026-03-11T09:00:00Z" || flag.Due != "2026-03-11T18:00:00Z" {
		t.Fatalf("window = %q .. %q", flag.Start, flag.Due)
	}
}

func TestBuildFollowupFlagThisWeek(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC) // Tuesday
	flag := BuildFollowupFlag(types.FlagThisWeek, now)
	if flag.Due != "2026-03-13T18:00:00Z" { // that Friday
		t.Fatalf("due = %q", flag.Due)
	}

	// On a Saturday the window rolls to the next Friday.
	sat := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	flag = BuildFollowupFlag(types.FlagThisWeek, sat)
	if flag.Due != "2026-03-20T18:00:00Z" {
		t.Fatalf("weekend due = %q", flag.Due)
	}
}

func TestBuildFollowupFlagNextWeek(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC) // Tuesday
	flag := BuildFollowupFlag(types.FlagNextWeek, now)
	if flag.Start != "2026-03-16T14:30:00Z" { // next Monday, clock preserved
		t.Fatalf("start = %q", flag.Start)
	}
	if flag.Due != "2026-03-20T18:00:00Z" { // its Friday
		t.Fatalf("due = %q", flag.Due)
	}
}

func TestBuildFollowupFlagSpecials(t *testing.T) {
	now := time.Now()
	flag := BuildFollowupFlag(types.FlagNoDate, now)
	if flag == nil || flag.Status != types.FlagStatusFlagged || flag.Due != "" {
		t.Fatalf("No date flag = %+v", flag)
	}
	flag = BuildFollowupFlag(types.FlagMarkAsComplete, now)
	if flag == nil || flag.Status != types.FlagStatusComplete {
		t.Fatalf("Mark as complete flag = %+v", flag)
	}
	if BuildFollowupFlag("", now) != nil {
		t.Fatal("empty flag name should build nothing")
	}
	if BuildFollowupFlag("someday", now) != nil {
		t.Fatal("unknown flag name should build nothing")
	}
}

func TestDesiredCategories(t *testing.T) {
	msg := &types.MessageSnapshot{Categories: []string{"Work"}}
	d := &types.TriageDecision{
		PrimaryCategory:     types.CategoryUrgent,
		SecondaryCategories: []string{types.CategoryPriority1},
	}
	got := desiredCategories(msg, d)
	want := []string{"Priority 1", "Processed", "Urgent", "Work"}
	if !sameCategories(got, want) {
		t.Fatalf("desiredCategories = %v, want %v", got, want)
	}
}

func TestDesiredCategoriesDefaultsPrimary(t *testing.T) {
	msg := &types.MessageSnapshot{}
	got := desiredCategories(msg, &types.TriageDecision{})
	if !sameCategories(got, []string{types.CategoryPriority3, types.CategoryProcessed}) {
		t.Fatalf("desiredCategories = %v", got)
	}
}

func TestDesiredCategoriesCompleteWinsOverPossiblyComplete(t *testing.T) {
	msg := &types.MessageSnapshot{Categories: []string{types.CategoryPossiblyComplete}}
	d := &types.TriageDecision{
		PrimaryCategory: types.CategoryNoReplyNeeded,
		MarkComplete:    true,
	}
	got := desiredCategories(msg, d)
	for _, c := range got {
		if c == types.CategoryPossiblyComplete {
			t.Fatalf("Possibly Complete survived a completion: %v", got)
		}
	}
	want := []string{types.CategoryComplete, types.CategoryNoReplyNeeded, types.CategoryProcessed}
	if !sameCategories(got, want) {
		t.Fatalf("desiredCategories = %v, want %v", got, want)
	}
}

func TestDesiredCategoriesMarketingAndInformational(t *testing.T) {
	msg := &types.MessageSnapshot{}
	d := &types.TriageDecision{
		PrimaryCategory: types.CategoryPriority3,
		IsMarketing:     true,
		IsInformational: true,
	}
	got := desiredCategories(msg, d)
	want := []string{
		types.CategoryInformational, types.CategoryMarketing,
		types.CategoryPriority3, types.CategoryProcessed,
	}
	if !sameCategories(got, want) {
		t.Fatalf("desiredCategories = %v, want %v", got, want)
	}
}

func TestSameCategories(t *testing.T) {
	if !sameCategories([]string{"a", "b"}, []string{"b", "a"}) {
		t.Fatal("order should not matter")
	}
	if sameCategories([]string{"a"}, []string{"a", "b"}) {
		t.Fatal("different lengths compared equal")
	}
	if sameCategories([]string{"a", "c"}, []string{"a", "b"}) {
		t.Fatal("different members compared equal")
	}
}
