// Package outlook implements the mailbox client on Microsoft Graph.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/types"
)

// graphTime is the wall-clock format Graph uses inside dateTimeTimeZone.
const graphTime = "2006-01-02T15:04:05"

// Client talks to one user's mailbox through Microsoft Graph.
type Client struct {
	graph  *msgraphsdk.GraphServiceClient
	userID string
}

var _ mailbox.Client = (*Client)(nil)

// New builds a Graph-backed client for the given user.
func New(cred azcore.TokenCredential, userID string, scopes []string) (*Client, error) {
	if len(scopes) == 0 {
		scopes = []string{"https://graph.microsoft.com/.default"}
	}
	graph, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, scopes)
	if err != nil {
		return nil, fmt.Errorf("create graph client: %w", err)
	}
	return &Client{graph: graph, userID: userID}, nil
}

// FetchUnprocessed lists recent inbox messages without the Processed
// category, newest first. The filter runs server-side so tagged messages
// never come back over the wire.
func (c *Client) FetchUnprocessed(ctx context.Context, sinceDays, max int) ([]types.MessageSnapshot, error) {
	since := time.Now().UTC().AddDate(0, 0, -sinceDays).Format(time.RFC3339)
	filter := fmt.Sprintf(
		"receivedDateTime ge %s and not(categories/any(c:c eq '%s'))",
		since, types.CategoryProcessed,
	)
	top := int32(max)
	cfg := &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
			Filter: &filter,
			Top:    &top,
			Select: []string{
				"id", "conversationId", "subject", "from", "receivedDateTime",
				"categories", "flag", "importance", "isRead", "webLink", "bodyPreview", "body",
			},
			Orderby: []string{"receivedDateTime desc"},
		},
	}

	result, err := c.graph.Users().ByUserId(c.userID).
		MailFolders().ByMailFolderId("inbox").
		Messages().Get(ctx, cfg)
	if err != nil {
		return nil, mapErr("fetch inbox", err)
	}

	var out []types.MessageSnapshot
	for _, m := range result.GetValue() {
		out = append(out, snapshot(m, c.userID))
	}
	return out, nil
}

// PatchMessage updates the given facets of one message in a single PATCH.
func (c *Client) PatchMessage(ctx context.Context, messageID string, fields mailbox.PatchFields) error {
	msg := models.NewMessage()
	if fields.Categories != nil {
		msg.SetCategories(*fields.Categories)
	}
	if fields.IsRead != nil {
		msg.SetIsRead(fields.IsRead)
	}
	if fields.Importance != nil {
		imp, err := models.ParseImportance(*fields.Importance)
		if err != nil || imp == nil {
			return &mailbox.Error{Kind: mailbox.Permanent, Op: "patch message",
				Err: fmt.Errorf("bad importance %q", *fields.Importance)}
		}
		msg.SetImportance(imp.(*models.Importance))
	}
	if fields.Flag != nil {
		flag, err := followupFlag(*fields.Flag)
		if err != nil {
			return &mailbox.Error{Kind: mailbox.Permanent, Op: "patch message", Err: err}
		}
		msg.SetFlag(flag)
	}

	_, err := c.graph.Users().ByUserId(c.userID).
		Messages().ByMessageId(messageID).
		Patch(ctx, msg, nil)
	if err != nil {
		return mapErr("patch message", err)
	}
	return nil
}

// CreateDraftReply creates a reply draft and fills in its body. The draft
// stays in Drafts for the user to review and send.
func (c *Client) CreateDraftReply(ctx context.Context, messageID, htmlBody string) (string, error) {
	draft, err := c.graph.Users().ByUserId(c.userID).
		Messages().ByMessageId(messageID).
		CreateReply().
		Post(ctx, users.NewItemMessagesItemCreateReplyPostRequestBody(), nil)
	if err != nil {
		return "", mapErr("create reply draft", err)
	}
	id := draft.GetId()
	if id == nil {
		return "", &mailbox.Error{Kind: mailbox.Permanent, Op: "create reply draft",
			Err: errors.New("draft created without an id")}
	}

	body := models.NewItemBody()
	ct := models.HTML_BODYTYPE
	body.SetContentType(&ct)
	body.SetContent(&htmlBody)
	update := models.NewMessage()
	update.SetBody(body)

	if _, err := c.graph.Users().ByUserId(c.userID).
		Messages().ByMessageId(*id).
		Patch(ctx, update, nil); err != nil {
		// The empty draft exists; report its ID so it can be cleaned up.
		return *id, mapErr("set draft body", err)
	}
	return *id, nil
}

// DeleteDraft removes a draft message.
func (c *Client) DeleteDraft(ctx context.Context, draftID string) error {
	err := c.graph.Users().ByUserId(c.userID).
		Messages().ByMessageId(draftID).
		Delete(ctx, nil)
	if err != nil {
		return mapErr("delete draft", err)
	}
	return nil
}

// SendSummary sends an HTML email to one recipient.
func (c *Client) SendSummary(ctx context.Context, subject, htmlBody, to string) error {
	body := models.NewItemBody()
	ct := models.HTML_BODYTYPE
	body.SetContentType(&ct)
	body.SetContent(&htmlBody)

	addr := models.NewEmailAddress()
	addr.SetAddress(&to)
	recipient := models.NewRecipient()
	recipient.SetEmailAddress(addr)

	msg := models.NewMessage()
	msg.SetSubject(&subject)
	msg.SetBody(body)
	msg.SetToRecipients([]models.Recipientable{recipient})

	save := true
	req := users.NewItemSendMailPostRequestBody()
	req.SetMessage(msg)
	req.SetSaveToSentItems(&save)

	if err := c.graph.Users().ByUserId(c.userID).SendMail().Post(ctx, req, nil); err != nil {
		return mapErr("send summary", err)
	}
	return nil
}

// EnsureCategories aligns the account's master category list with the
// desired palette, creating missing categories and recolouring drifted ones.
func (c *Client) EnsureCategories(ctx context.Context, colors map[string]string) (map[string]string, error) {
	existing, err := c.graph.Users().ByUserId(c.userID).
		Outlook().MasterCategories().Get(ctx, nil)
	if err != nil {
		return nil, mapErr("list master categories", err)
	}

	type current struct {
		id    string
		color string
	}
	have := make(map[string]current)
	for _, cat := range existing.GetValue() {
		name, id := cat.GetDisplayName(), cat.GetId()
		if name == nil || id == nil {
			continue
		}
		cur := current{id: *id}
		if col := cat.GetColor(); col != nil {
			cur.color = col.String()
		}
		have[*name] = cur
	}

	actions := make(map[string]string, len(colors))
	for name, preset := range colors {
		colorVal, err := models.ParseCategoryColor(preset)
		if err != nil || colorVal == nil {
			return nil, fmt.Errorf("bad category color %q for %s", preset, name)
		}
		color := colorVal.(*models.CategoryColor)

		cur, ok := have[name]
		if !ok {
			cat := models.NewOutlookCategory()
			cat.SetDisplayName(&name)
			cat.SetColor(color)
			if _, err := c.graph.Users().ByUserId(c.userID).
				Outlook().MasterCategories().Post(ctx, cat, nil); err != nil {
				return actions, mapErr("create category "+name, err)
			}
			actions[name] = "created"
			continue
		}
		if cur.color != preset {
			cat := models.NewOutlookCategory()
			cat.SetColor(color)
			if _, err := c.graph.Users().ByUserId(c.userID).
				Outlook().MasterCategories().ByOutlookCategoryId(cur.id).
				Patch(ctx, cat, nil); err != nil {
				return actions, mapErr("update category "+name, err)
			}
			actions[name] = "updated"
			continue
		}
		actions[name] = "unchanged"
	}
	return actions, nil
}

// snapshot flattens a Graph message into the provider-neutral form.
func snapshot(m models.Messageable, account string) types.MessageSnapshot {
	snap := types.MessageSnapshot{Account: account, Importance: types.ImportanceNormal}
	snap.Flag.Status = types.FlagStatusNotFlagged

	if v := m.GetId(); v != nil {
		snap.ID = *v
	}
	if v := m.GetConversationId(); v != nil {
		snap.ConversationID = *v
	}
	if v := m.GetSubject(); v != nil {
		snap.Subject = *v
	}
	if from := m.GetFrom(); from != nil {
		if ea := from.GetEmailAddress(); ea != nil {
			if v := ea.GetAddress(); v != nil {
				snap.From = *v
			}
			if v := ea.GetName(); v != nil {
				snap.FromName = *v
			}
		}
	}
	if v := m.GetReceivedDateTime(); v != nil {
		snap.ReceivedAt = v.UTC().Format(time.RFC3339)
	}
	if v := m.GetCategories(); v != nil {
		snap.Categories = v
	}
	if flag := m.GetFlag(); flag != nil {
		if v := flag.GetFlagStatus(); v != nil {
			snap.Flag.Status = v.String()
		}
		snap.Flag.Start = flagTime(flag.GetStartDateTime())
		snap.Flag.Due = flagTime(flag.GetDueDateTime())
	}
	if v := m.GetImportance(); v != nil {
		snap.Importance = v.String()
	}
	if v := m.GetIsRead(); v != nil {
		snap.IsRead = *v
	}
	if v := m.GetWebLink(); v != nil {
		snap.WebLink = *v
	}
	if v := m.GetBodyPreview(); v != nil {
		snap.BodyPreview = *v
	}
	if body := m.GetBody(); body != nil {
		if v := body.GetContent(); v != nil {
			snap.Body = *v
		}
	}
	return snap
}

// followupFlag converts the neutral flag state into the Graph shape.
func followupFlag(state types.FlagState) (models.FollowupFlagable, error) {
	statusVal, err := models.ParseFollowupFlagStatus(state.Status)
	if err != nil || statusVal == nil {
		return nil, fmt.Errorf("bad flag status %q", state.Status)
	}
	flag := models.NewFollowupFlag()
	flag.SetFlagStatus(statusVal.(*models.FollowupFlagStatus))

	if state.Start != "" {
		dtz, err := dateTimeTimeZone(state.Start)
		if err != nil {
			return nil, err
		}
		flag.SetStartDateTime(dtz)
	}
	if state.Due != "" {
		dtz, err := dateTimeTimeZone(state.Due)
		if err != nil {
			return nil, err
		}
		flag.SetDueDateTime(dtz)
	}
	return flag, nil
}

func dateTimeTimeZone(rfc3339 string) (models.DateTimeTimeZoneable, error) {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return nil, fmt.Errorf("bad flag time %q: %w", rfc3339, err)
	}
	value := t.UTC().Format(graphTime)
	tz := "UTC"
	dtz := models.NewDateTimeTimeZone()
	dtz.SetDateTime(&value)
	dtz.SetTimeZone(&tz)
	return dtz, nil
}

func flagTime(dtz models.DateTimeTimeZoneable) string {
	if dtz == nil {
		return ""
	}
	v := dtz.GetDateTime()
	if v == nil {
		return ""
	}
	t, err := time.Parse(graphTime, *v)
	if err != nil {
		// Graph sometimes returns fractional seconds.
		t, err = time.Parse(graphTime+".9999999", *v)
		if err != nil {
			return *v
		}
	}
	return t.UTC().Format(time.RFC3339)
}

// mapErr classifies Graph failures: throttling and server faults are
// transient, a missing object is not found, everything else is permanent.
func mapErr(op string, err error) error {
	kind := mailbox.Permanent
	var odErr *odataerrors.ODataError
	if errors.As(err, &odErr) {
		switch {
		case odErr.ResponseStatusCode == http.StatusNotFound:
			kind = mailbox.NotFound
		case odErr.ResponseStatusCode == http.StatusTooManyRequests,
			odErr.ResponseStatusCode >= 500:
			kind = mailbox.Transient
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = mailbox.Transient
	}
	return &mailbox.Error{Kind: kind, Op: op, Err: err}
}
