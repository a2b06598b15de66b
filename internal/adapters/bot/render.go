package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postflow-bot/internal/adapters/telegram"
	"postflow-bot/internal/domain"
	"postflow-bot/internal/usecase/posts"
)

// Сколько записей показывает одна страница списка запланированных постов.
const scheduledPageSize = 5

// esc экранирует произвольный текст для MarkdownV2.
var esc = telegram.EscapeMarkdownV2

// bold оборачивает экранированный текст в жирное начертание.
func bold(s string) string { return "*" + esc(s) + "*" }

func unauthorizedMessage(userID int64) string {
	lines := []string{
		"Этот бот обслуживает одного оператора.",
		"",
		fmt.Sprintf("Ваш идентификатор: %d", userID),
		"Чтобы стать оператором, укажите его в переменной TELEGRAM_USER_ID и перезапустите бота.",
	}
	return strings.Join(lines, "\n")
}

func startMessage() string {
	lines := []string{
		bold("PostFlow"),
		"",
		esc("Бот публикует посты в X: сразу, по расписанию или по недельному плану."),
		esc(fmt.Sprintf("Текст длиннее %d символов автоматически разбивается на тред.", posts.MaxSegmentLength)),
		"",
		esc("Все разделы доступны из меню: /menu"),
	}
	return strings.Join(lines, "\n")
}

func helpMessage() string {
	lines := []string{
		bold("Команды"),
		"",
		esc("/menu - главное меню"),
		esc("/plan - мастер недельного плана"),
		esc("/topics - темы для генерации"),
		esc("/status - состояние подключений"),
		esc("/cancel - отменить текущий ввод или план"),
		esc("/chatid - идентификатор чата"),
		"",
		bold("Как это устроено"),
		"",
		esc(fmt.Sprintf("Пост длиннее %d символов превращается в тред, каждый сегмент получает нумерацию вида 1/5.", posts.MaxSegmentLength)),
		esc("Время публикаций хранится в UTC, а вводится и показывается в поясе оператора."),
		esc("Запланированные публикации переживают перезапуск: таймеры восстанавливаются из базы."),
	}
	return strings.Join(lines, "\n")
}

func menuMessage() string {
	return strings.Join([]string{
		bold("Главное меню"),
		"",
		esc("Выберите раздел."),
	}, "\n")
}

func newPostMessage() string {
	return strings.Join([]string{
		bold("Новый пост"),
		"",
		esc("Текст можно написать самому, сгенерировать по промпту или по сохранённой теме."),
		esc("Фото с подписью тоже становится постом."),
	}, "\n")
}

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Новый пост", "new_post"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Запланированные", "scheduled"),
			tgbotapi.NewInlineKeyboardButtonData("Статистика", "stats"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Недельный план", "plan_start"),
			tgbotapi.NewInlineKeyboardButtonData("Темы", "topics"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Статус", "status"),
			tgbotapi.NewInlineKeyboardButtonData("Настройки", "settings"),
		),
	)
}

func backToMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Меню", "menu")),
	)
}

func newPostKeyboard(genEnabled bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Написать вручную", "post_manual")),
	}
	if genEnabled {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Сгенерировать по промпту", "post_ai"),
			tgbotapi.NewInlineKeyboardButtonData("Из темы", "topics"),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Меню", "menu")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func retryGenerationKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Повторить", "post_ai"),
			tgbotapi.NewInlineKeyboardButtonData("Написать вручную", "post_manual"),
		),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Меню", "menu")),
	)
}

func retryPublishKeyboard(postID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(postID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Повторить публикацию", "publish:"+id),
			tgbotapi.NewInlineKeyboardButtonData("К посту", "preview:"+id),
		),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Меню", "menu")),
	)
}

func confirmDeleteKeyboard(postID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(postID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Да, удалить", "confirm_delete:"+id),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", "cancel_delete:"+id),
		),
	)
}

// previewMessage собирает карточку поста: метаданные, текст по сегментам,
// расписание и исход последней публикации.
func previewMessage(post domain.Post, now time.Time, loc *time.Location) string {
	lines := []string{
		bold(fmt.Sprintf("Пост #%d", post.ID)),
		esc("Статус: " + statusLabel(post.Status)),
		esc("Источник: " + originLabel(post.Origin)),
	}
	if post.MediaKey != "" {
		lines = append(lines, esc("Вложение: есть"))
	}
	lines = append(lines, "")

	if post.IsThread() {
		lines = append(lines, esc(fmt.Sprintf("Тред из %d сегментов:", len(post.Segments))))
		for _, seg := range post.Segments {
			lines = append(lines, "",
				bold(fmt.Sprintf("Сегмент %d: %d/%d", seg.Idx, len([]rune(seg.Content)), posts.MaxSegmentLength)),
				esc(seg.Content))
		}
	} else {
		lines = append(lines,
			esc(fmt.Sprintf("Символов: %d/%d", len([]rune(post.Content)), posts.MaxSegmentLength)),
			"",
			esc(post.Content))
	}

	var tail []string
	if sched := post.Schedule; sched != nil && sched.Status == domain.ScheduleStatusPending {
		tail = append(tail, esc(fmt.Sprintf("Публикация: %s (%s)",
			telegram.FormatDateTime(sched.ScheduledFor, loc),
			telegram.FormatRelative(now, sched.ScheduledFor))))
	}
	if post.Status == domain.PostStatusPublished && post.PlatformID != "" {
		tail = append(tail, esc("https://twitter.com/i/web/status/"+post.PlatformID))
	}
	if post.Status == domain.PostStatusFailed && post.ErrorMessage != "" {
		tail = append(tail, esc("Ошибка: "+post.ErrorMessage))
	}
	if len(tail) > 0 {
		lines = append(lines, "")
		lines = append(lines, tail...)
	}
	return strings.Join(lines, "\n")
}

func previewKeyboard(post domain.Post, genEnabled bool) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(post.ID, 10)
	var rows [][]tgbotapi.InlineKeyboardButton

	switch post.Status {
	case domain.PostStatusScheduled:
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Опубликовать сейчас", "publish:"+id),
				tgbotapi.NewInlineKeyboardButtonData("Перенести", "resched:"+id),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Снять с расписания", "unschedule:"+id),
			),
		)
	case domain.PostStatusPublished:
	default:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Опубликовать", "publish:"+id),
			tgbotapi.NewInlineKeyboardButtonData("Запланировать", "schedule:"+id),
		))
	}

	if post.Status != domain.PostStatusPublished {
		editRow := tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Редактировать", "edit:"+id),
		)
		if genEnabled {
			editRow = append(editRow, tgbotapi.NewInlineKeyboardButtonData("Улучшить", "improve:"+id))
		}
		rows = append(rows, editRow)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Удалить", "delete:"+id),
		tgbotapi.NewInlineKeyboardButtonData("Меню", "menu"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func scheduleOptionsKeyboard(postID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(postID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Через час", "sched_1h:"+id),
			tgbotapi.NewInlineKeyboardButtonData("Через 3 часа", "sched_3h:"+id),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Завтра в 09:00", "sched_tomorrow:"+id),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Своя дата", "sched_custom:"+id),
			tgbotapi.NewInlineKeyboardButtonData("К посту", "preview:"+id),
		),
	)
}

// scheduledListView строит страницу списка запланированных публикаций.
// Номер страницы за пределами списка прижимается к ближайшему краю.
func scheduledListView(pending []domain.PendingPost, page int, now time.Time, loc *time.Location) (string, tgbotapi.InlineKeyboardMarkup) {
	if len(pending) == 0 {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Новый пост", "new_post"),
				tgbotapi.NewInlineKeyboardButtonData("Меню", "menu"),
			),
		)
		return esc("Запланированных постов нет."), kb
	}

	pages := (len(pending) + scheduledPageSize - 1) / scheduledPageSize
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	from := page * scheduledPageSize
	to := from + scheduledPageSize
	if to > len(pending) {
		to = len(pending)
	}

	lines := []string{bold(fmt.Sprintf("Запланированные посты: %d", len(pending))), ""}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range pending[from:to] {
		when := telegram.FormatDateTime(p.Schedule.ScheduledFor, loc)
		lines = append(lines,
			bold(fmt.Sprintf("#%d · %s (%s)", p.Post.ID, when, telegram.FormatRelative(now, p.Schedule.ScheduledFor))),
			esc(telegram.Truncate(p.Post.Content, 40)),
			"")
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("Пост #%d, %s", p.Post.ID, when),
				"preview:"+strconv.FormatInt(p.Post.ID, 10)),
		))
	}

	if pages > 1 {
		var nav []tgbotapi.InlineKeyboardButton
		if page > 0 {
			nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Назад", fmt.Sprintf("sched_page:%d", page-1)))
		}
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d/%d", page+1, pages), "noop"))
		if page < pages-1 {
			nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Вперёд", fmt.Sprintf("sched_page:%d", page+1)))
		}
		rows = append(rows, nav)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Меню", "menu")))
	return strings.Join(lines, "\n"), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func statisticsMessage(stats domain.PostStats) string {
	lines := []string{
		bold("Статистика"),
		"",
		esc(fmt.Sprintf("Всего постов: %d", stats.Total)),
		esc(fmt.Sprintf("Опубликовано: %d", stats.Published)),
		esc(fmt.Sprintf("Запланировано: %d", stats.Scheduled)),
		esc(fmt.Sprintf("Черновики и отменённые: %d", stats.Draft)),
		esc(fmt.Sprintf("Неудачные: %d", stats.Failed)),
	}
	if finished := stats.Published + stats.Failed; finished > 0 {
		rate := float64(stats.Published) / float64(finished) * 100
		lines = append(lines, "", esc(fmt.Sprintf("Успешность публикаций: %.0f%%", rate)))
	}
	return strings.Join(lines, "\n")
}

func statusMessage(xLine, genLine string, stats domain.PostStats, withStats bool) string {
	lines := []string{
		bold("Состояние систем"),
		"",
		esc(xLine),
		esc(genLine),
	}
	if withStats {
		lines = append(lines, "", esc(fmt.Sprintf("Постов всего: %d, запланировано: %d", stats.Total, stats.Scheduled)))
	}
	return strings.Join(lines, "\n")
}

func settingsMessage(tz string, genEnabled, mediaEnabled bool) string {
	genState := "выключена"
	if genEnabled {
		genState = "включена"
	}
	mediaState := "выключено"
	if mediaEnabled {
		mediaState = "включено"
	}
	lines := []string{
		bold("Настройки"),
		"",
		esc("Часовой пояс отображения: " + tz),
		esc(fmt.Sprintf("Лимит сегмента: %d символов", posts.MaxSegmentLength)),
		esc(fmt.Sprintf("Максимум сегментов в треде: %d", posts.MaxThreadSegments)),
		esc("Генерация текста: " + genState),
		esc("Хранилище вложений: " + mediaState),
		"",
		esc("Значения задаются переменными окружения и применяются после перезапуска."),
	}
	return strings.Join(lines, "\n")
}

func topicsView(items []domain.Topic, limit int) (string, tgbotapi.InlineKeyboardMarkup) {
	lines := []string{bold(fmt.Sprintf("Темы: %d из %d", len(items), limit)), ""}
	if len(items) == 0 {
		lines = append(lines, esc("Сохранённых тем нет. Тема подставляется в промпт генерации одним нажатием."))
	} else {
		lines = append(lines, esc("Нажмите на тему, чтобы сгенерировать черновик."))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range items {
		id := strconv.FormatInt(t.ID, 10)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(t.Name, "topic_gen:"+id),
			tgbotapi.NewInlineKeyboardButtonData("Удалить", "topic_del:"+id),
		))
	}
	if len(items) < limit {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Добавить тему", "topic_add")))
	}
	if len(items) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Удалить все темы", "topic_clear")))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Меню", "menu")))
	return strings.Join(lines, "\n"), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func statusLabel(s domain.PostStatus) string {
	switch s {
	case domain.PostStatusDraft:
		return "черновик"
	case domain.PostStatusScheduled:
		return "запланирован"
	case domain.PostStatusPublished:
		return "опубликован"
	case domain.PostStatusFailed:
		return "не опубликован"
	case domain.PostStatusCancelled:
		return "отменён"
	default:
		return string(s)
	}
}

func originLabel(o domain.PostOrigin) string {
	if o == domain.PostOriginGenerated {
		return "сгенерирован"
	}
	return "написан вручную"
}
