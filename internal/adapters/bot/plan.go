package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postflow-bot/internal/adapters/telegram"
	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
	"postflow-bot/internal/usecase/planner"
)

var weekdayNames = [7]string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

func weekdayName(day int) string {
	if day < 0 || day > 6 {
		return "?"
	}
	return weekdayNames[day]
}

// startPlan открывает новую сессию мастера. Прежний незавершённый план
// откатывается внутри сервиса вместе со своими черновиками.
func (h *Handler) startPlan(ctx context.Context, chatID, userID int64) {
	h.clearPending(userID)
	sess := h.plan.Start(ctx, userID)
	h.showPlanState(chatID, sess)
}

// tryWizardInput передаёт свободный текст активной сессии мастера, если её
// текущий шаг ждёт текстовый ввод.
func (h *Handler) tryWizardInput(ctx context.Context, chatID, userID int64, text string) bool {
	sess, ok := h.plan.Session(userID)
	if !ok {
		return false
	}

	var ev planner.Event
	switch sess.State {
	case planner.StateSelectingPostsPerDay:
		ev = planner.SetPostsPerDay{Raw: text}
	case planner.StateCollectingTimes:
		ev = planner.TimesEntered{Raw: text}
	case planner.StateAwaitingManualContent, planner.StateAwaitingAIPrompt:
		if text == "" {
			return false
		}
		ev = planner.ContentProvided{Text: text}
	default:
		return false
	}

	h.applyPlanEvent(ctx, chatID, userID, ev)
	return true
}

// applyPlanEvent применяет событие мастера и показывает следующий шаг.
// Ошибка валидации оставляет шаг на месте, поэтому после текста ошибки
// запрос ввода повторяется.
func (h *Handler) applyPlanEvent(ctx context.Context, chatID, userID int64, ev planner.Event) {
	sess, err := h.plan.Apply(ctx, userID, ev)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			h.reply(chatID, "Активного плана нет. Начните новый: /plan", nil)
		case errors.Is(err, planner.ErrEmptyPlan):
			h.reply(chatID, "Все времена плана уже в прошлом, планировать нечего. Начните заново: /plan", nil)
		case domain.IsValidation(err):
			h.reply(chatID, errText(err), nil)
			h.showPlanState(chatID, sess)
		default:
			// Сбой генерации: слот уже переведён на ручной ввод, оператору
			// нужны и причина, и следующий запрос.
			h.reply(chatID, "Ошибка: "+errText(err), nil)
			if sess != nil && !sess.Terminal() {
				h.showPlanState(chatID, sess)
			}
		}
		return
	}
	h.showPlanState(chatID, sess)
}

// togglePlanDay переключает день и обновляет клавиатуру на месте, не
// засоряя чат повторением вопроса.
func (h *Handler) togglePlanDay(ctx context.Context, cb *tgbotapi.CallbackQuery, day int) {
	chatID := cb.Message.Chat.ID
	sess, err := h.plan.Apply(ctx, cb.From.ID, planner.ToggleDay{Day: day})
	if err != nil {
		if domain.IsNotFound(err) {
			h.reply(chatID, "Активного плана нет. Начните новый: /plan", nil)
			return
		}
		h.reply(chatID, errText(err), nil)
		return
	}

	kb := planDaysKeyboard(sess)
	start := time.Now()
	_, err = h.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, cb.Message.MessageID, kb))
	metrics.ObserveNetworkRequest("telegram_bot", "edit_markup", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось обновить клавиатуру дней")
	}
}

func (h *Handler) showPlanState(chatID int64, sess *planner.Session) {
	text, kb := planStateView(sess, h.clock.Now(), h.loc, h.gen != nil)
	h.replyStyled(chatID, text, kb)
}

// planStateView строит сообщение и клавиатуру для текущего шага мастера.
func planStateView(sess *planner.Session, now time.Time, loc *time.Location, genEnabled bool) (string, *tgbotapi.InlineKeyboardMarkup) {
	switch sess.State {
	case planner.StateSelectingDays:
		kb := planDaysKeyboard(sess)
		text := strings.Join([]string{
			bold("Недельный план"),
			"",
			esc("Выберите дни, по которым выходят посты, и нажмите «Готово»."),
		}, "\n")
		return text, &kb

	case planner.StateSelectingPostsPerDay:
		kb := planCancelKeyboard()
		days := sess.SelectedDays()
		names := make([]string, 0, len(days))
		for _, d := range days {
			names = append(names, weekdayName(d))
		}
		text := strings.Join([]string{
			esc("Дни: " + strings.Join(names, ", ")),
			"",
			esc(fmt.Sprintf("Сколько постов выходит в каждый из этих дней? Отправьте число от 1 до %d.", planner.MaxPostsPerDay)),
		}, "\n")
		return text, &kb

	case planner.StateCollectingTimes:
		day, ok := sess.CurrentDay()
		if !ok {
			return esc("Сессия плана в неожиданном состоянии, начните заново: /plan"), nil
		}
		kb := planCancelKeyboard()
		text := strings.Join([]string{
			bold(fmt.Sprintf("%s, %s", weekdayName(day.Weekday), day.Date.Format("02.01"))),
			"",
			esc(fmt.Sprintf("Отправьте %d времён через запятую, формат ЧЧ:ММ. Например: 09:00, 13:30.", sess.PostsPerDay)),
		}, "\n")
		return text, &kb

	case planner.StateSelectingContentMode:
		slot, ok := sess.CurrentSlot()
		if !ok {
			return esc("Сессия плана в неожиданном состоянии, начните заново: /plan"), nil
		}
		kb := planContentModeKeyboard(genEnabled)
		text := strings.Join([]string{
			bold(fmt.Sprintf("Слот %d из %d", sess.SlotCursor+1, len(sess.Slots))),
			esc(fmt.Sprintf("Публикация %s (%s)", telegram.FormatDateTime(slot.At, loc), telegram.FormatRelative(now, slot.At))),
			"",
			esc("Откуда взять текст?"),
		}, "\n")
		return text, &kb

	case planner.StateAwaitingManualContent:
		slot, _ := sess.CurrentSlot()
		kb := planCancelKeyboard()
		return esc(fmt.Sprintf("Отправьте текст поста на %s.", telegram.FormatDateTime(slot.At, loc))), &kb

	case planner.StateAwaitingAIPrompt:
		slot, _ := sess.CurrentSlot()
		kb := planCancelKeyboard()
		return esc(fmt.Sprintf("Отправьте промпт: о чём написать пост на %s.", telegram.FormatDateTime(slot.At, loc))), &kb

	case planner.StateReviewingPlan:
		kb := planReviewKeyboard()
		lines := []string{bold(fmt.Sprintf("План готов, постов: %d", len(sess.Slots))), ""}
		for i, slot := range sess.Slots {
			lines = append(lines, esc(fmt.Sprintf("%d. %s, пост #%d", i+1, telegram.FormatDateTime(slot.At, loc), slot.PostID)))
		}
		lines = append(lines, "", esc("Назначить все публикации?"))
		return strings.Join(lines, "\n"), &kb

	case planner.StateConfirmed:
		kb := backToMenuKeyboard()
		lines := []string{
			bold("План подтверждён"),
			"",
			esc(fmt.Sprintf("Назначено публикаций: %d", sess.Succeeded)),
		}
		if sess.Failed > 0 {
			lines = append(lines, esc(fmt.Sprintf("Не назначено: %d, эти посты остались черновиками.", sess.Failed)))
		}
		return strings.Join(lines, "\n"), &kb

	case planner.StateCancelled:
		kb := backToMenuKeyboard()
		return esc("План отменён, его черновики удалены."), &kb

	default:
		return esc("Сессия плана в неожиданном состоянии, начните заново: /plan"), nil
	}
}

func planDaysKeyboard(sess *planner.Session) tgbotapi.InlineKeyboardMarkup {
	row := func(from, to int) []tgbotapi.InlineKeyboardButton {
		var btns []tgbotapi.InlineKeyboardButton
		for day := from; day <= to; day++ {
			label := weekdayName(day)
			if _, ok := sess.Days[day]; ok {
				label = "✅ " + label
			}
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("plan_day:%d", day)))
		}
		return btns
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row(0, 3),
		row(4, 6),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Готово", "plan_days_done"),
			tgbotapi.NewInlineKeyboardButtonData("Отменить", "plan_cancel"),
		),
	)
}

func planContentModeKeyboard(genEnabled bool) tgbotapi.InlineKeyboardMarkup {
	modeRow := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Написать вручную", "plan_manual"),
	)
	if genEnabled {
		modeRow = append(modeRow, tgbotapi.NewInlineKeyboardButtonData("Сгенерировать", "plan_ai"))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		modeRow,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Отменить план", "plan_cancel")),
	)
}

func planReviewKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Подтвердить", "plan_confirm"),
			tgbotapi.NewInlineKeyboardButtonData("Отменить", "plan_cancel"),
		),
	)
}

func planCancelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Отменить план", "plan_cancel")),
	)
}
