package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// WebhookConfig points at an external gradebook. With TokenURL set the
// client authenticates with OAuth2 client credentials.
type WebhookConfig struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Webhook posts result-ready events as JSON. Other kinds are ignored.
type Webhook struct {
	url  string
	http *http.Client
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	h := &http.Client{}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		h = cc.Client(context.Background())
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	} else {
		h.Timeout = 10 * time.Second
	}
	return &Webhook{url: cfg.URL, http: h}
}

func (w *Webhook) Post(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("post result: %s", res.Status)
	}
	return nil
}

func (w *Webhook) Notify(ctx context.Context, e Event) {
	if e.Kind != KindResultReady {
		return
	}
	if err := w.Post(ctx, e); err != nil {
		log.Printf("[notify] webhook attempt=%s: %v", e.AttemptID, err)
	}
}
