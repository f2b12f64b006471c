// Package auth provides mailbox credentials for both providers.
//
// Gmail accounts read the same credentials.json and token.json files
// written by Google's client libraries, so existing tokens work without
// re-authentication. Outlook accounts produce an azcore.TokenCredential
// for the Microsoft Graph SDK, either from a client-credentials grant
// (application mode) or from a stored refresh token (delegated mode).
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/daviddao/mailtriage/internal/config"
)

// GmailScopes cover reading, labeling, drafting, and sending.
var GmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.labels",
	"https://www.googleapis.com/auth/gmail.send",
}

// GraphDefaultScope is used for the client-credentials grant.
const GraphDefaultScope = "https://graph.microsoft.com/.default"

// storedToken is the token.json format shared with Python's google-auth
// library; delegated Microsoft tokens reuse the same shape.
type storedToken struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
}

// LoadGmailService returns an authenticated Gmail API service for the
// account, reading credentials.json and token.json from its directory.
func LoadGmailService(ctx context.Context, accountDir string) (*gmail.Service, error) {
	client, err := gmailClient(ctx, filepath.Join(accountDir, "credentials.json"))
	if err != nil {
		return nil, fmt.Errorf("get oauth client: %w", err)
	}
	return gmail.NewService(ctx, option.WithHTTPClient(client))
}

func gmailClient(ctx context.Context, credentialsPath string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}
	cfg, err := google.ConfigFromJSON(data, GmailScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(credentialsPath), "token.json")
	token, err := loadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token from %s: %w", tokenPath, err)
	}

	// Auto-refresh, writing refreshed tokens back for other tooling.
	ts := cfg.TokenSource(ctx, token)
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != token.AccessToken {
		if saveErr := saveToken(tokenPath, fresh, cfg); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save refreshed token: %v\n", saveErr)
		}
	}

	return oauth2.NewClient(ctx, ts), nil
}

// GraphCredential builds the token credential for an outlook account. The
// account's tenant overrides the shared Azure tenant when set.
func GraphCredential(ctx context.Context, azure config.Azure, account config.Account, accountDir string) (azcore.TokenCredential, error) {
	tenant := account.TenantID
	if tenant == "" {
		tenant = azure.TenantID
	}
	if tenant == "" || azure.ClientID == "" {
		return nil, fmt.Errorf("azure tenant_id and client_id are required for %s", account.Email)
	}
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant)

	switch azure.AuthMode {
	case "application":
		if azure.ClientSecret == "" {
			return nil, fmt.Errorf("azure client_secret is required in application mode")
		}
		cc := &clientcredentials.Config{
			ClientID:     azure.ClientID,
			ClientSecret: azure.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{GraphDefaultScope},
		}
		return &tokenSourceCredential{source: cc.TokenSource(ctx)}, nil

	case "delegated", "":
		tokenPath := filepath.Join(accountDir, "token.json")
		token, err := loadToken(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("load token from %s: %w", tokenPath, err)
		}
		scopes := azure.Scopes
		if len(scopes) == 0 {
			scopes = []string{"https://graph.microsoft.com/Mail.ReadWrite", "https://graph.microsoft.com/Mail.Send", "offline_access"}
		}
		oc := &oauth2.Config{
			ClientID:     azure.ClientID,
			ClientSecret: azure.ClientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenant),
				TokenURL: tokenURL,
			},
		}
		return &tokenSourceCredential{source: oc.TokenSource(ctx, token)}, nil

	default:
		return nil, fmt.Errorf("unknown azure auth_mode %q", azure.AuthMode)
	}
}

// tokenSourceCredential adapts an oauth2.TokenSource to the azcore
// credential interface the Graph SDK expects.
type tokenSourceCredential struct {
	source oauth2.TokenSource
}

func (c *tokenSourceCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	token, err := c.source.Token()
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("acquire graph token: %w", err)
	}
	expires := token.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(30 * time.Minute)
	}
	return azcore.AccessToken{Token: token.AccessToken, ExpiresOn: expires}, nil
}

func loadToken(tokenPath string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	// Python writes ISO 8601 with microseconds; accept the common variants.
	var expiry time.Time
	if st.Expiry != "" {
		for _, layout := range []string{
			"2006-01-02T15:04:05.999999Z",
			"2006-01-02T15:04:05Z",
			time.RFC3339,
			time.RFC3339Nano,
		} {
			if t, err := time.Parse(layout, st.Expiry); err == nil {
				expiry = t
				break
			}
		}
	}

	return &oauth2.Token{
		AccessToken:  st.Token,
		RefreshToken: st.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, nil
}

func saveToken(tokenPath string, token *oauth2.Token, cfg *oauth2.Config) error {
	st := storedToken{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenURI:     cfg.Endpoint.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Expiry:       token.Expiry.UTC().Format("2006-01-02T15:04:05.999999Z"),
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath, data, 0o600)
}
