// Package types defines core data structures for mailtriage.
package types

import "encoding/json"

// Well-known categories applied by the triage pipeline. The Processed marker
// is what makes re-runs idempotent: tagged messages are never fetched again.
const (
	CategoryUrgent           = "Urgent"
	CategoryPriority1        = "Priority 1"
	CategoryPriority2        = "Priority 2"
	CategoryPriority3        = "Priority 3"
	CategoryMarketing        = "Marketing"
	CategoryInformational    = "Informational"
	CategoryNoReplyNeeded    = "No reply needed"
	CategoryComplete         = "Complete"
	CategoryPossiblyComplete = "Possibly Complete"
	CategoryProcessed        = "Processed"
)

// CategoryColors maps master categories to Outlook CategoryColor presets.
// Bright presets for urgency, darker variants for completion states.
var CategoryColors = map[string]string{
	CategoryUrgent:           "preset0",  // bright red
	CategoryPriority1:        "preset1",  // orange
	CategoryPriority2:        "preset3",  // yellow
	CategoryPriority3:        "preset4",  // green
	CategoryMarketing:        "preset5",  // teal
	CategoryInformational:    "preset7",  // blue
	CategoryNoReplyNeeded:    "preset12", // gray
	CategoryComplete:         "preset19", // dark green
	CategoryPossiblyComplete: "preset18", // dark yellow
	CategoryProcessed:        "preset13", // dark gray
}

// Followup flag names the decision layer may produce.
const (
	FlagToday          = "Today"
	FlagTomorrow       = "Tomorrow"
	FlagThisWeek       = "This week"
	FlagNextWeek       = "Next week"
	FlagNoDate         = "No date"
	FlagMarkAsComplete = "Mark as complete"
)

// Importance values (Graph vocabulary; the Gmail adapter maps them to labels).
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
)

// Flag status values.
const (
	FlagStatusNotFlagged = "notFlagged"
	FlagStatusFlagged    = "flagged"
	FlagStatusComplete   = "complete"
)

// FlagState is a message's followup flag: status plus optional date window.
// Dates are RFC3339 UTC strings; empty means unset.
type FlagState struct {
	Status string `json:"status"`
	Start  string `json:"start,omitempty"`
	Due    string `json:"due,omitempty"`
}

// MessageSnapshot is the pre-mutation state of one remote message. The
// applier diffs proposed values against it and the ledger records it as
// the reversal baseline.
type MessageSnapshot struct {
	ID             string    `json:"id"`
	Account        string    `json:"account"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
	FromName       string    `json:"from_name,omitempty"`
	ReceivedAt     string    `json:"received_at"`
	Categories     []string  `json:"categories"`
	Flag           FlagState `json:"flag"`
	Importance     string    `json:"importance"`
	IsRead         bool      `json:"is_read"`
	WebLink        string    `json:"web_link,omitempty"`
	BodyPreview    string    `json:"body_preview,omitempty"`
	Body           string    `json:"body,omitempty"`
}

// HasCategory reports whether the snapshot carries the given category.
func (m *MessageSnapshot) HasCategory(name string) bool {
	for _, c := range m.Categories {
		if c == name {
			return true
		}
	}
	return false
}

// TriageDecision is the schema-validated classification for one message.
type TriageDecision struct {
	ID                   string   `json:"id"`
	PrimaryCategory      string   `json:"primary_category"`
	SecondaryCategories  []string `json:"secondary_categories"`
	Flag                 string   `json:"flag,omitempty"`
	NeedsReply           bool     `json:"needs_reply"`
	IsMarketing          bool     `json:"is_marketing"`
	IsInformational      bool     `json:"is_informational"`
	MarkComplete         bool     `json:"mark_complete"`
	MarkPossiblyComplete bool     `json:"mark_possibly_complete"`
	CreateTask           bool     `json:"create_task"`
	TaskSummary          string   `json:"task_summary,omitempty"`
	Summary              string   `json:"summary,omitempty"`
	DraftReplyBody       string   `json:"draft_reply_body,omitempty"`
}

// Mutation kinds. Patch kinds are reversed from their before snapshot;
// creation kinds are reversed by deletion (or not at all for summary_sent).
const (
	KindCategoryPatch   = "category_patch"
	KindFlagPatch       = "flag_patch"
	KindReadStatePatch  = "read_state_patch"
	KindImportancePatch = "importance_patch"
	KindDraftCreated    = "draft_created"
	KindTaskAppended    = "task_appended"
	KindSummarySent     = "summary_sent"
)

// MutationRecord is one remote or local side effect and how to undo it.
// Before/After/Extra hold kind-specific JSON payloads.
type MutationRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Account   string          `json:"account"`
	MessageID string          `json:"message_id,omitempty"`
	Kind      string          `json:"kind"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// CategoryState is the before/after payload for category_patch records.
type CategoryState struct {
	Categories []string `json:"categories"`
}

// ReadState is the before/after payload for read_state_patch records.
type ReadState struct {
	IsRead bool `json:"is_read"`
}

// ImportanceState is the before/after payload for importance_patch records.
type ImportanceState struct {
	Importance string `json:"importance"`
}

// DraftInfo is the extra payload for draft_created records.
type DraftInfo struct {
	DraftID string `json:"draft_id"`
}

// TaskAppendInfo is the extra payload for task_appended records. It pins
// the appended region so rollback can verify the tail before truncating.
type TaskAppendInfo struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	SHA256 string `json:"sha256"`
}

// MustJSON marshals v for a record payload. Payload types marshal cleanly;
// a failure here is a programming error.
func MustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("marshal record payload: " + err.Error())
	}
	return b
}

// MessageOutcome is the per-message result of a forward run.
type MessageOutcome struct {
	MessageID    string `json:"message_id"`
	Subject      string `json:"subject"`
	Category     string `json:"category,omitempty"`
	Flag         string `json:"flag,omitempty"`
	Records      int    `json:"records"`
	DraftCreated bool   `json:"draft_created,omitempty"`
	TaskAppended bool   `json:"task_appended,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RunReport summarizes one forward run for one account.
type RunReport struct {
	Account     string           `json:"account"`
	RunID       string           `json:"run_id"`
	Processed   int              `json:"processed"`
	Skipped     int              `json:"skipped"`
	Drafts      int              `json:"drafts"`
	Tasks       int              `json:"tasks"`
	Failures    int              `json:"failures"`
	SummarySent bool             `json:"summary_sent"`
	Messages    []MessageOutcome `json:"messages,omitempty"`
}

// Rollback outcomes per record.
const (
	OutcomeReversed      = "reversed"
	OutcomeConflict      = "conflict"
	OutcomeNotReversible = "not_reversible"
	OutcomeRemoteError   = "remote_error"
)

// RecordResult is the outcome of reversing a single mutation record.
type RecordResult struct {
	RecordID  int64  `json:"record_id"`
	MessageID string `json:"message_id,omitempty"`
	Kind      string `json:"kind"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// RollbackReport enumerates per-record outcomes for one run's rollback.
type RollbackReport struct {
	Account       string         `json:"account"`
	RunID         string         `json:"run_id"`
	Results       []RecordResult `json:"results"`
	Reversed      int            `json:"reversed"`
	Conflicts     int            `json:"conflicts"`
	NotReversible int            `json:"not_reversible"`
	RemoteErrors  int            `json:"remote_errors"`
}

// Failed reports whether the rollback needs manual attention.
func (r *RollbackReport) Failed() bool {
	return r.Conflicts > 0 || r.RemoteErrors > 0
}
