// Package gmail implements the mailbox client on the Gmail API.
//
// Gmail has no message categories, followup flags, or importance field, so
// the adapter maps them onto labels: categories become user labels of the
// same name, the followup flag becomes STARRED, and high importance becomes
// IMPORTANT. Read state toggles the UNREAD label.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/types"
)

// labelColors maps palette presets onto Gmail's allowed label colours.
var labelColors = map[string]string{
	"preset0":  "#fb4c2f", // bright red
	"preset1":  "#ffad47", // orange
	"preset3":  "#fad165", // yellow
	"preset4":  "#16a766", // green
	"preset5":  "#2da2bb", // teal
	"preset7":  "#4a86e8", // blue
	"preset12": "#999999", // gray
	"preset13": "#666666", // dark gray
	"preset18": "#aa8831", // dark yellow
	"preset19": "#0b804b", // dark green
}

// Client talks to one Gmail account.
type Client struct {
	svc     *gm.Service
	account string

	// User label name to ID, populated at construction and kept current as
	// labels are created.
	labelID   map[string]string
	labelName map[string]string
}

var _ mailbox.Client = (*Client)(nil)

// New builds a Gmail-backed client, loading the account's label table.
func New(ctx context.Context, svc *gm.Service, account string) (*Client, error) {
	c := &Client{
		svc:       svc,
		account:   account,
		labelID:   make(map[string]string),
		labelName: make(map[string]string),
	}
	resp, err := svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, mapErr("list labels", err)
	}
	for _, l := range resp.Labels {
		c.labelID[l.Name] = l.Id
		c.labelName[l.Id] = l.Name
	}
	return c, nil
}

// FetchUnprocessed lists recent inbox messages. The query excludes nothing
// server-side because Gmail's label search mangles names with spaces, so
// the Processed filter runs here against label IDs.
func (c *Client) FetchUnprocessed(ctx context.Context, sinceDays, max int) ([]types.MessageSnapshot, error) {
	query := fmt.Sprintf("in:inbox newer_than:%dd", sinceDays)
	resp, err := c.svc.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("list messages", err)
	}

	processedID := c.labelID[types.CategoryProcessed]

	var out []types.MessageSnapshot
	for _, stub := range resp.Messages {
		msg, err := c.svc.Users.Messages.Get("me", stub.Id).
			Format("full").
			Context(ctx).
			Do()
		if err != nil {
			// One unreadable message should not sink the fetch.
			continue
		}
		if processedID != "" && hasLabel(msg.LabelIds, processedID) {
			continue
		}
		out = append(out, c.snapshot(msg))
	}
	return out, nil
}

// PatchMessage translates facet changes into label modifications. The
// current label set is fetched first so category diffs are exact.
func (c *Client) PatchMessage(ctx context.Context, messageID string, fields mailbox.PatchFields) error {
	var add, remove []string

	if fields.Categories != nil {
		current, err := c.svc.Users.Messages.Get("me", messageID).
			Format("minimal").
			Context(ctx).
			Do()
		if err != nil {
			return mapErr("get message labels", err)
		}
		curSet := make(map[string]bool)
		for _, id := range current.LabelIds {
			if name, ok := c.labelName[id]; ok && !isSystemLabel(id) {
				curSet[name] = true
			}
		}
		wantSet := make(map[string]bool, len(*fields.Categories))
		for _, name := range *fields.Categories {
			wantSet[name] = true
			if !curSet[name] {
				id, err := c.ensureLabel(ctx, name, "")
				if err != nil {
					return err
				}
				add = append(add, id)
			}
		}
		for name := range curSet {
			if !wantSet[name] {
				remove = append(remove, c.labelID[name])
			}
		}
	}

	if fields.Flag != nil {
		if fields.Flag.Status == types.FlagStatusFlagged {
			add = append(add, "STARRED")
		} else {
			remove = append(remove, "STARRED")
		}
	}

	if fields.IsRead != nil {
		if *fields.IsRead {
			remove = append(remove, "UNREAD")
		} else {
			add = append(add, "UNREAD")
		}
	}

	if fields.Importance != nil {
		if *fields.Importance == types.ImportanceHigh {
			add = append(add, "IMPORTANT")
		} else {
			remove = append(remove, "IMPORTANT")
		}
	}

	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	_, err := c.svc.Users.Messages.Modify("me", messageID, &gm.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}).Context(ctx).Do()
	if err != nil {
		return mapErr("modify message", err)
	}
	return nil
}

// CreateDraftReply builds a threaded MIME reply and saves it as a draft.
func (c *Client) CreateDraftReply(ctx context.Context, messageID, htmlBody string) (string, error) {
	orig, err := c.svc.Users.Messages.Get("me", messageID).
		Format("metadata").
		MetadataHeaders("From", "Reply-To", "Subject", "Message-ID", "References").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapErr("get original message", err)
	}
	headers := headerMap(orig.Payload.Headers)

	to := headers["Reply-To"]
	if to == "" {
		to = headers["From"]
	}
	subject := headers["Subject"]
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var mime strings.Builder
	fmt.Fprintf(&mime, "To: %s\r\n", to)
	fmt.Fprintf(&mime, "Subject: %s\r\n", subject)
	if msgID := headers["Message-ID"]; msgID != "" {
		fmt.Fprintf(&mime, "In-Reply-To: %s\r\n", msgID)
		refs := headers["References"]
		if refs != "" {
			refs += " "
		}
		fmt.Fprintf(&mime, "References: %s%s\r\n", refs, msgID)
	}
	mime.WriteString("MIME-Version: 1.0\r\n")
	mime.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	mime.WriteString("\r\n")
	mime.WriteString(htmlBody)

	draft, err := c.svc.Users.Drafts.Create("me", &gm.Draft{
		Message: &gm.Message{
			Raw:      base64.URLEncoding.EncodeToString([]byte(mime.String())),
			ThreadId: orig.ThreadId,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", mapErr("create draft", err)
	}
	return draft.Id, nil
}

// DeleteDraft removes a draft by ID.
func (c *Client) DeleteDraft(ctx context.Context, draftID string) error {
	if err := c.svc.Users.Drafts.Delete("me", draftID).Context(ctx).Do(); err != nil {
		return mapErr("delete draft", err)
	}
	return nil
}

// SendSummary sends an HTML email to one recipient.
func (c *Client) SendSummary(ctx context.Context, subject, htmlBody, to string) error {
	var mime strings.Builder
	fmt.Fprintf(&mime, "To: %s\r\n", to)
	fmt.Fprintf(&mime, "Subject: %s\r\n", subject)
	mime.WriteString("MIME-Version: 1.0\r\n")
	mime.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	mime.WriteString("\r\n")
	mime.WriteString(htmlBody)

	_, err := c.svc.Users.Messages.Send("me", &gm.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(mime.String())),
	}).Context(ctx).Do()
	if err != nil {
		return mapErr("send summary", err)
	}
	return nil
}

// EnsureCategories creates missing user labels for the palette and aligns
// their colours with the closest Gmail-allowed value.
func (c *Client) EnsureCategories(ctx context.Context, colors map[string]string) (map[string]string, error) {
	actions := make(map[string]string, len(colors))
	for name, preset := range colors {
		hex := labelColors[preset]
		if _, ok := c.labelID[name]; !ok {
			if _, err := c.ensureLabel(ctx, name, hex); err != nil {
				return actions, err
			}
			actions[name] = "created"
			continue
		}
		if hex != "" {
			_, err := c.svc.Users.Labels.Patch("me", c.labelID[name], &gm.Label{
				Color: &gm.LabelColor{BackgroundColor: hex, TextColor: "#ffffff"},
			}).Context(ctx).Do()
			if err != nil {
				return actions, mapErr("update label "+name, err)
			}
			actions[name] = "updated"
			continue
		}
		actions[name] = "unchanged"
	}
	return actions, nil
}

// ensureLabel returns the label ID for name, creating the label if needed.
func (c *Client) ensureLabel(ctx context.Context, name, hex string) (string, error) {
	if id, ok := c.labelID[name]; ok {
		return id, nil
	}
	label := &gm.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	if hex != "" {
		label.Color = &gm.LabelColor{BackgroundColor: hex, TextColor: "#ffffff"}
	}
	created, err := c.svc.Users.Labels.Create("me", label).Context(ctx).Do()
	if err != nil {
		return "", mapErr("create label "+name, err)
	}
	c.labelID[name] = created.Id
	c.labelName[created.Id] = name
	return created.Id, nil
}

// snapshot flattens a Gmail message into the provider-neutral form.
func (c *Client) snapshot(msg *gm.Message) types.MessageSnapshot {
	headers := headerMap(msg.Payload.Headers)

	snap := types.MessageSnapshot{
		ID:             msg.Id,
		Account:        c.account,
		ConversationID: msg.ThreadId,
		Subject:        headers["Subject"],
		ReceivedAt:     headers["Date"],
		IsRead:         !hasLabel(msg.LabelIds, "UNREAD"),
		Importance:     types.ImportanceNormal,
		BodyPreview:    msg.Snippet,
		Body:           extractBody(msg.Payload),
		WebLink:        "https://mail.google.com/mail/#inbox/" + msg.Id,
	}
	snap.From, snap.FromName = parseAddress(headers["From"])
	snap.Flag.Status = types.FlagStatusNotFlagged
	if hasLabel(msg.LabelIds, "STARRED") {
		snap.Flag.Status = types.FlagStatusFlagged
	}
	if hasLabel(msg.LabelIds, "IMPORTANT") {
		snap.Importance = types.ImportanceHigh
	}
	for _, id := range msg.LabelIds {
		if name, ok := c.labelName[id]; ok && !isSystemLabel(id) {
			snap.Categories = append(snap.Categories, name)
		}
	}
	return snap
}

// extractBody gets the plain text body from a message payload, preferring
// text/plain and recursing into multipart messages.
func extractBody(payload *gm.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := decodeBase64URL(payload.Body.Data); err == nil {
			return decoded
		}
	}
	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
		if len(part.Parts) > 0 {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}
	for _, part := range payload.Parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
	}
	return ""
}

// headerMap converts Gmail API headers into a simple key-value map.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Name] = h.Value
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url-encoded content, padding if needed.
func decodeBase64URL(data string) (string, error) {
	data = strings.ReplaceAll(data, "-", "+")
	data = strings.ReplaceAll(data, "_", "/")
	switch len(data) % 4 {
	case 2:
		data += "=="
	case 3:
		data += "="
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// parseAddress splits "Name <addr>" into its parts.
func parseAddress(header string) (addr, name string) {
	if i := strings.LastIndex(header, "<"); i >= 0 {
		addr = strings.Trim(header[i:], "<> ")
		name = strings.Trim(strings.TrimSpace(header[:i]), `"`)
		return addr, name
	}
	return strings.TrimSpace(header), ""
}

func hasLabel(labels []string, id string) bool {
	for _, l := range labels {
		if l == id {
			return true
		}
	}
	return false
}

// isSystemLabel reports whether a label ID is one of Gmail's built-ins,
// which are uppercase and never user-created.
func isSystemLabel(id string) bool {
	return id == strings.ToUpper(id) && !strings.HasPrefix(id, "Label_")
}

// mapErr classifies Gmail API failures.
func mapErr(op string, err error) error {
	kind := mailbox.Permanent
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			kind = mailbox.NotFound
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			kind = mailbox.Transient
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = mailbox.Transient
	}
	return &mailbox.Error{Kind: kind, Op: op, Err: err}
}
