package twilio

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// Client holds the account credentials shared by the media fetcher and the
// reply dispatcher.
type Client struct {
	accountSID string
	authToken  string
	number     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(accountSID, authToken, number string, httpClient *http.Client) *Client {
	return NewClientWithURL(accountSID, authToken, number, httpClient, defaultBaseURL)
}

// NewClientWithURL creates a client against a custom API host (for testing).
func NewClientWithURL(accountSID, authToken, number string, httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		number:     strings.TrimPrefix(number, "whatsapp:"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) hasCredentials() bool {
	return c.accountSID != "" && c.authToken != ""
}

func (c *Client) authorize(req *http.Request) {
	if c.hasCredentials() && c.trustedHost(req.URL) {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}
}

// trustedHost reports whether credentials may be sent to u: the configured
// API origin, or a twilio.com host over https.
func (c *Client) trustedHost(u *url.URL) bool {
	if u == nil {
		return false
	}
	if base, err := url.Parse(c.baseURL); err == nil && base.Host != "" && base.Scheme == u.Scheme && strings.EqualFold(base.Host, u.Host) {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return u.Scheme == "https" && (host == "twilio.com" || strings.HasSuffix(host, ".twilio.com"))
}

// whatsappAddress prefixes a bare number with the channel scheme.
func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
