package whatsapp

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/workspace"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultMediaDir     = "images"
	maxMediaBytes       = 16 * 1024 * 1024
	maxResponseBytes    = 1024 * 1024
)

// Client talks to the Graph API for media downloads and outbound messages.
type Client struct {
	baseURL           string
	version           string
	phoneNumberID     string
	accessToken       string
	recipientOverride string
	mediaDir          string
	sendTimeout       time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	staging    *workspace.Staging
	log        *slog.Logger
}

// NewClient validates Graph API credentials and builds a client. staging may
// be nil for send-only use.
func NewClient(cfg config.WhatsAppConfig, staging *workspace.Staging, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		return nil, fault.New(fault.Configuration, "whatsapp api version (VERSION) is required")
	}
	phoneNumberID := strings.TrimSpace(cfg.PhoneNumberID)
	if phoneNumberID == "" {
		return nil, fault.New(fault.Configuration, "whatsapp phone number id (PHONE_NUMBER_ID) is required")
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, fault.New(fault.Configuration, "whatsapp access token (WHATSAPP_ACCESS_TOKEN) is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.GraphBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	mediaDir := strings.TrimSpace(cfg.MediaDir)
	if mediaDir == "" {
		mediaDir = defaultMediaDir
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.SendRatePerSecond > 0 {
		limit = rate.Limit(cfg.SendRatePerSecond)
		burst = max(1, int(cfg.SendRatePerSecond))
	}

	return &Client{
		baseURL:           baseURL,
		version:           version,
		phoneNumberID:     phoneNumberID,
		accessToken:       accessToken,
		recipientOverride: strings.TrimSpace(cfg.RecipientOverride),
		mediaDir:          mediaDir,
		sendTimeout:       cfg.SendTimeout(),
		httpClient:        httpClient,
		limiter:           rate.NewLimiter(limit, burst),
		staging:           staging,
		log:               log.With("component", "channel.whatsapp.client"),
	}, nil
}

func (c *Client) graphURL(parts ...string) string {
	return c.baseURL + "/" + c.version + "/" + strings.Join(parts, "/")
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}

var errNoStaging = errors.New("media staging is not configured")
