package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second, Transport: telemetry.NewTransport(http.DefaultTransport)},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Message renders a terminal download event for humans.
func Message(ev downloader.Event) string {
	switch ev.Status {
	case storage.StatusCompleted:
		return fmt.Sprintf("✅ Download finished: %s (%s in %s)",
			ev.Title, humanize.Bytes(uint64(max(ev.Bytes, 0))), ev.Duration.Round(time.Second))
	case storage.StatusCancelled:
		return "⏹️ Download cancelled: " + ev.Title
	default:
		msg := "❌ Download failed: " + ev.Title
		if ev.Err != nil {
			msg += " (" + ev.Err.Error() + ")"
		}

		return msg
	}
}

// Relay sends every event to n until events is closed or ctx is done. Send failures are
// logged.
func Relay(ctx context.Context, events <-chan downloader.Event, n Notifier) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if err := n.Notify(ctx, Message(ev)); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "failed to send notification", "download_id", ev.DownloadID, "err", err)
			}
		}
	}
}
