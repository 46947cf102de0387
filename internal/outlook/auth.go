package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// NativeRedirectURL is the redirect registered for public desktop clients.
const NativeRedirectURL = "https://login.microsoftonline.com/common/oauth2/nativeclient"

var scopes = []string{"offline_access", "Calendars.ReadWrite"}

// OAuthConfig returns the config for an Azure AD app registration. An empty
// tenant means "common".
func OAuthConfig(tenant, clientID, clientSecret string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  NativeRedirectURL,
		Scopes:       scopes,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}
}

// HTTPClient returns a client authorised with the token stored at path.
func HTTPClient(ctx context.Context, config *oauth2.Config, path string) (*http.Client, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not load outlook token: %w. Please run the 'auth outlook' command first", err)
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to parse outlook token: %w", err)
	}
	return config.Client(ctx, tok), nil
}

// SaveToken writes a token to path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
