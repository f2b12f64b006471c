package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/daviddao/mailtriage/internal/config"
	"github.com/daviddao/mailtriage/internal/types"
)

// decisionServer returns a chat-completions stub whose single choice
// carries the given content string.
func decisionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(config.LLM{BaseURL: baseURL, Model: "test-model"}, "test-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func testMessage() *types.MessageSnapshot {
	return &types.MessageSnapshot{
		ID:      "m1",
		Subject: "Invoice overdue",
		From:    "billing@example.com",
	}
}

func validDecisionJSON(id string) string {
	d := map[string]any{
		"id":                     id,
		"primary_category":       "Urgent",
		"secondary_categories":   []string{},
		"flag":                   "Today",
		"needs_reply":            true,
		"is_marketing":           false,
		"is_informational":       false,
		"mark_complete":          false,
		"mark_possibly_complete": false,
		"create_task":            true,
		"task_summary":           "Pay the invoice",
		"summary":                nil,
		"draft_reply_body":       "Paying today.",
	}
	b, _ := json.Marshal(d)
	return string(b)
}

func TestDecideValidDecision(t *testing.T) {
	server := decisionServer(t, validDecisionJSON("m1"))
	client := newTestClient(t, server.URL)

	decision, err := client.Decide(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.PrimaryCategory != types.CategoryUrgent {
		t.Fatalf("primary = %q", decision.PrimaryCategory)
	}
	if decision.Flag != types.FlagToday {
		t.Fatalf("flag = %q", decision.Flag)
	}
	if !decision.CreateTask || decision.TaskSummary != "Pay the invoice" {
		t.Fatalf("task fields = %v %q", decision.CreateTask, decision.TaskSummary)
	}
}

func TestDecideRejectsBadCategory(t *testing.T) {
	bad := `{"id":"m1","primary_category":"Spam","secondary_categories":[],` +
		`"needs_reply":false,"is_marketing":false,"is_informational":false,` +
		`"mark_complete":false,"mark_possibly_complete":false,"create_task":false}`
	server := decisionServer(t, bad)
	client := newTestClient(t, server.URL)

	_, err := client.Decide(context.Background(), testMessage())
	if !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("decide = %v, want ErrInvalidDecision", err)
	}
}

func TestDecideRejectsMissingFields(t *testing.T) {
	server := decisionServer(t, `{"id":"m1","primary_category":"Urgent"}`)
	client := newTestClient(t, server.URL)

	if _, err := client.Decide(context.Background(), testMessage()); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("decide = %v, want ErrInvalidDecision", err)
	}
}

func TestDecideRejectsNonJSON(t *testing.T) {
	server := decisionServer(t, "I think this email is urgent.")
	client := newTestClient(t, server.URL)

	if _, err := client.Decide(context.Background(), testMessage()); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("decide = %v, want ErrInvalidDecision", err)
	}
}

func TestDecideRejectsMismatchedID(t *testing.T) {
	server := decisionServer(t, validDecisionJSON("someone-else"))
	client := newTestClient(t, server.URL)

	if _, err := client.Decide(context.Background(), testMessage()); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("decide = %v, want ErrInvalidDecision", err)
	}
}

func TestDecideSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	_, err := client.Decide(context.Background(), testMessage())
	if err == nil {
		t.Fatal("decide succeeded against a 503")
	}
	if errors.Is(err, ErrInvalidDecision) {
		t.Fatal("API error misreported as schema failure")
	}
}
