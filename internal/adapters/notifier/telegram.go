package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"postflow-bot/internal/adapters/telegram"
	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
)

// Telegram доставляет оператору итог срабатывания расписания. Сбои доставки
// только логируются: публикация к этому моменту уже зафиксирована в БД.
type Telegram struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор.
func NewTelegram(bot *tgbotapi.BotAPI, log zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, log: log}
}

// Notify отправляет оператору сообщение об исходе публикации.
func (n *Telegram) Notify(_ context.Context, userID int64, outcome domain.PublishOutcome) {
	var lines []string
	if outcome.Published {
		lines = append(lines, "Запланированный пост опубликован")
		lines = append(lines, fmt.Sprintf("Пост #%d", outcome.PostID))
		if outcome.Segments > 1 {
			lines = append(lines, fmt.Sprintf("Сегментов в треде: %d", outcome.Segments))
		}
		if outcome.PlatformID != "" {
			lines = append(lines, "https://twitter.com/i/web/status/"+outcome.PlatformID)
		}
	} else {
		lines = append(lines, "Не удалось опубликовать запланированный пост")
		lines = append(lines, fmt.Sprintf("Пост #%d", outcome.PostID))
		if outcome.ErrText != "" {
			lines = append(lines, "Причина: "+outcome.ErrText)
		}
		lines = append(lines, "Пост сохранён, попытку можно повторить из меню.")
	}

	text := strings.Join(lines, "\n")
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(userID, part)
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "notify_outcome", "message", start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			n.log.Error().Err(err).Int64("user_id", userID).Int64("post_id", outcome.PostID).Msg("notifier: не удалось доставить уведомление")
		}
	}
}
