// Package notifier 在关键事件（开仓、拦截、失败）发生时推送 Telegram 消息。
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"shortbot/internal/config"
)

const telegramAPIBase = "https://api.telegram.org"

type Telegram struct {
	cfg     config.TelegramConfig
	apiBase string
	httpc   *http.Client
}

func NewTelegram(cfg config.TelegramConfig) *Telegram {
	return &Telegram{
		cfg:     cfg,
		apiBase: telegramAPIBase,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured 表示 token 和 chat_id 都已设置，可以发送。
func (t *Telegram) Configured() bool {
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

// SendText 发送 Markdown 文本，失败按 1s/2s/3s 退避重试，最多 3 次。
// ctx 取消时立即放弃，不等剩余重试。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if !t.Configured() {
		return fmt.Errorf("telegram 配置不完整")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.cfg.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.cfg.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.httpc.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return lastErr
}
