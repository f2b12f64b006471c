// Package triage implements the idempotent triage-apply protocol and the
// rollback engine over the mutation ledger.
package triage

import (
	"sort"
	"strings"
	"time"

	"github.com/daviddao/mailtriage/internal/types"
)

// ImportanceFor maps a primary category to a message importance.
func ImportanceFor(primary string) string {
	switch strings.ToLower(primary) {
	case "urgent", "priority 1":
		return types.ImportanceHigh
	case "priority 2", "informational":
		return types.ImportanceNormal
	case "priority 3", "marketing", "no reply needed":
		return types.ImportanceLow
	default:
		return types.ImportanceNormal
	}
}

// readStateFor decides the post-triage read flag: completed and marketing
// mail is marked read, everything else stays unread.
func readStateFor(d *types.TriageDecision) bool {
	return d.MarkComplete || d.IsMarketing
}

// BuildFollowupFlag converts a flag name into a concrete flag state with a
// UTC date window. Returns nil for unknown or empty names.
func BuildFollowupFlag(name string, now time.Time) *types.FlagState {
	now = now.UTC()
	var start, due time.Time

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "today":
		start = now
		due = time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, time.UTC)
	case "tomorrow":
		tmr := now.AddDate(0, 0, 1)
		start = time.Date(tmr.Year(), tmr.Month(), tmr.Day(), 9, 0, 0, 0, time.UTC)
		due = time.Date(tmr.Year(), tmr.Month(), tmr.Day(), 18, 0, 0, 0, time.UTC)
	case "this week":
		// Due Friday 18:00; if Friday already passed, the next one.
		daysAhead := int(time.Friday - now.Weekday())
		if daysAhead < 0 {
			daysAhead += 7
		}
		target := now.AddDate(0, 0, daysAhead)
		start = now
		due = time.Date(target.Year(), target.Month(), target.Day(), 18, 0, 0, 0, time.UTC)
	case "next week":
		daysUntilMonday := (8 - int(now.Weekday())) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		monday := now.AddDate(0, 0, daysUntilMonday)
		friday := monday.AddDate(0, 0, 4)
		start = monday
		due = time.Date(friday.Year(), friday.Month(), friday.Day(), 18, 0, 0, 0, time.UTC)
	case "no date":
		return &types.FlagState{Status: types.FlagStatusFlagged}
	case "mark as complete":
		return &types.FlagState{Status: types.FlagStatusComplete}
	default:
		return nil
	}

	return &types.FlagState{
		Status: types.FlagStatusFlagged,
		Start:  start.Truncate(time.Second).Format(time.RFC3339),
		Due:    due.Truncate(time.Second).Format(time.RFC3339),
	}
}

// desiredCategories computes the post-triage category set: the message's
// existing categories plus everything the decision implies, plus the
// Processed marker. Returned sorted for stable comparison and patching.
func desiredCategories(msg *types.MessageSnapshot, d *types.TriageDecision) []string {
	set := make(map[string]bool)
	for _, c := range msg.Categories {
		if c != "" {
			set[c] = true
		}
	}
	set[types.CategoryProcessed] = true

	primary := d.PrimaryCategory
	if primary == "" {
		primary = types.CategoryPriority3
	}
	set[primary] = true

	for _, extra := range d.SecondaryCategories {
		if extra != "" {
			set[extra] = true
		}
	}

	if d.IsMarketing {
		set[types.CategoryMarketing] = true
	}
	if d.IsInformational {
		set[types.CategoryInformational] = true
	}
	if d.MarkComplete {
		set[types.CategoryComplete] = true
		delete(set, types.CategoryPossiblyComplete)
	} else if d.MarkPossiblyComplete {
		set[types.CategoryPossiblyComplete] = true
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// sameCategories compares two category sets ignoring order.
func sameCategories(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
