package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
)

// Notifier — канал уведомлений оператора. Отказ канала никогда
// не прерывает торговый цикл.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// TelegramNotifier отправляет уведомления через Telegram Bot API
type TelegramNotifier struct {
	token   string
	chatID  string
	retries int
	client  *http.Client
}

// NewTelegramNotifier создает нотификатор Telegram
func NewTelegramNotifier(cfg config.NotifyConfig) *TelegramNotifier {
	return &TelegramNotifier{
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		retries: cfg.Retries,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// Send отправляет сообщение с повторами и экспоненциальной задержкой
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	if n.token == "" || n.chatID == "" {
		return fmt.Errorf("telegram: токен или chat_id не заданы")
	}

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.send(ctx, text)
		if lastErr == nil {
			return nil
		}
		logger.Warn("Ошибка отправки уведомления",
			zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return lastErr
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.token)
	form := url.Values{
		"chat_id": {n.chatID},
		"text":    {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: запрос: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: статус %d", resp.StatusCode)
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)

// FormatStopHit форматирует уведомление о срабатывании стопа
func FormatStopHit(ticker string, price, stop float64) string {
	return fmt.Sprintf("СТОП-ЛОСС: %s по %.2f (уровень %.2f). Позиция закрыта.",
		ticker, price, stop)
}

// FormatTakeHit форматирует уведомление о достижении тейка
func FormatTakeHit(ticker string, price, take float64) string {
	return fmt.Sprintf("ТЕЙК-ПРОФИТ: %s по %.2f (уровень %.2f). Прибыль зафиксирована.",
		ticker, price, take)
}

// FormatAutoTrade форматирует уведомление об автономной сделке
func FormatAutoTrade(trade models.Trade, score int) string {
	action := "Куплено"
	if trade.Side == models.SideSell {
		action = "Продано"
	}
	return fmt.Sprintf("АВТО-СДЕЛКА: %s %.4f %s по %.2f (оценка %d). %s",
		action, trade.Qty, trade.Ticker, trade.Price, score, trade.Note)
}

// FormatConviction форматирует уведомление о сигнале высокой уверенности
func FormatConviction(score models.Score) string {
	return fmt.Sprintf("СИГНАЛ: %s — оценка %d (%s), цена %.2f",
		score.Ticker, score.Value, score.Verdict, score.Price)
}
