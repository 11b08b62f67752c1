// ABOUTME: Operator notifications for backup outcomes
// ABOUTME: Telegram delivery plus persistent in-dashboard notification rows

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Baron-Systems/fb/internal/store"
)

// Notifier receives backup outcomes. Implementations must never block the
// orchestrator on delivery problems: notification is best effort.
type Notifier interface {
	BackupSucceeded(ctx context.Context, agentID, stack, site, backupDir string)
	BackupFailed(ctx context.Context, agentID, stack, site, errCode, detail string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) BackupSucceeded(context.Context, string, string, string, string)      {}
func (Nop) BackupFailed(context.Context, string, string, string, string, string) {}

// Recorder persists notifications to the store for the dashboard and, when
// Telegram is configured in settings, forwards failures there too. Successes
// are recorded but not pushed: a quiet channel is the success signal.
type Recorder struct {
	store  store.Store
	http   *retryablehttp.Client
	logger *slog.Logger

	// apiBase is overridable for tests; production uses the Telegram API.
	apiBase string
}

// NewRecorder creates the production notifier.
func NewRecorder(st store.Store) *Recorder {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &Recorder{
		store:   st,
		http:    client,
		logger:  slog.Default().With("component", "notify"),
		apiBase: "https://api.telegram.org",
	}
}

func (r *Recorder) BackupSucceeded(ctx context.Context, agentID, stack, site, backupDir string) {
	r.record(ctx, "backup.success", "Backup Completed",
		fmt.Sprintf("%s / %s / %s stored at %s", agentID, stack, site, backupDir))
}

func (r *Recorder) BackupFailed(ctx context.Context, agentID, stack, site, errCode, detail string) {
	msg := fmt.Sprintf("%s / %s / %s failed: %s", agentID, stack, site, errCode)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	r.record(ctx, "backup.failure", "Backup Failed", msg)
	r.sendTelegram(ctx, "Backup Failed\n"+msg)
}

// record inserts a dashboard notification row. Store failures are logged and
// swallowed so a wedged database cannot take the backup path down with it.
func (r *Recorder) record(ctx context.Context, kind, title, message string) {
	n := &store.Notification{Kind: kind, Title: title, Message: message}
	if err := r.store.InsertNotification(ctx, n); err != nil {
		r.logger.Error("recording notification", "kind", kind, "error", err)
	}
}

// sendTelegram pushes a message through the Telegram bot API when settings
// enable it. All failures are logged and swallowed.
func (r *Recorder) sendTelegram(ctx context.Context, text string) {
	var enabled bool
	if err := r.store.GetSetting(ctx, store.SettingTelegramEnabled, &enabled); err != nil || !enabled {
		return
	}
	var token, chatID string
	if err := r.store.GetSetting(ctx, store.SettingTelegramToken, &token); err != nil || token == "" {
		r.logger.Warn("telegram enabled but bot token missing")
		return
	}
	if err := r.store.GetSetting(ctx, store.SettingTelegramChatID, &chatID); err != nil || chatID == "" {
		r.logger.Warn("telegram enabled but chat_id missing")
		return
	}

	form := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", r.apiBase, token)
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		r.logger.Error("building telegram request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Warn("sending telegram notification", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		r.logger.Warn("telegram api rejected message", "status", resp.StatusCode)
	}
}

var _ Notifier = (*Recorder)(nil)
var _ Notifier = Nop{}
