package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"postflow-bot/internal/adapters/telegram"
	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
	"postflow-bot/internal/usecase/planner"
	"postflow-bot/internal/usecase/posts"
	"postflow-bot/internal/usecase/scheduling"
	"postflow-bot/internal/usecase/topics"
)

// pendingKind — какой свободный ввод бот ждёт от оператора.
type pendingKind int

const (
	pendingManualPost pendingKind = iota + 1
	pendingPrompt
	pendingEdit
	pendingImprove
	pendingCustomSchedule
	pendingReschedule
	pendingTopicName
)

type pendingInput struct {
	kind   pendingKind
	postID int64
}

// Форматы ввода даты и времени для планирования.
var scheduleInputLayouts = []string{"02.01.2006 15:04", "2006-01-02 15:04"}

// Handler обрабатывает апдейты бота. Бот обслуживает одного оператора,
// сообщения остальных пользователей игнорируются.
type Handler struct {
	bot     *tgbotapi.BotAPI
	log     zerolog.Logger
	posts   *posts.Service
	sched   *scheduling.Service
	plan    *planner.Service
	topics  *topics.Service
	pub     domain.Publisher
	gen     domain.Generator  // nil, когда генерация отключена
	media   domain.MediaStore // nil, когда хранилище вложений отключено
	ownerID int64
	loc     *time.Location
	clock   domain.Clock
	files   *http.Client

	mu      sync.Mutex
	pending map[int64]pendingInput
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, postUC *posts.Service, schedUC *scheduling.Service, planUC *planner.Service, topicUC *topics.Service, pub domain.Publisher, gen domain.Generator, media domain.MediaStore, ownerID int64, loc *time.Location, clock domain.Clock) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		bot:     bot,
		log:     log,
		posts:   postUC,
		sched:   schedUC,
		plan:    planUC,
		topics:  topicUC,
		pub:     pub,
		gen:     gen,
		media:   media,
		ownerID: ownerID,
		loc:     loc,
		clock:   clock,
		files:   &http.Client{Timeout: 30 * time.Second},
		pending: make(map[int64]pendingInput),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) authorized(userID int64) bool { return userID == h.ownerID }

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if !h.authorized(userID) {
		h.handleUnauthorized(msg, text)
		return
	}

	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, chatID, userID, text)
		return
	}
	if len(msg.Photo) > 0 {
		h.handlePhoto(ctx, msg)
		return
	}
	if h.tryWizardInput(ctx, chatID, userID, text) {
		return
	}
	if h.tryPendingInput(ctx, chatID, userID, text) {
		return
	}
	if text == "" {
		return
	}
	h.reply(chatID, "Сейчас я не жду ввода. Откройте меню: /menu", nil)
}

// handleUnauthorized отвечает постороннему пользователю только на /start и
// /chatid: идентификатор нужен, чтобы настроить бота на себя.
func (h *Handler) handleUnauthorized(msg *tgbotapi.Message, text string) {
	switch {
	case strings.HasPrefix(text, "/chatid"):
		h.reply(msg.Chat.ID, fmt.Sprintf("Идентификатор этого чата: %d", msg.Chat.ID), nil)
	case strings.HasPrefix(text, "/start"):
		h.reply(msg.Chat.ID, unauthorizedMessage(msg.From.ID), nil)
	default:
		h.log.Debug().Int64("user_id", msg.From.ID).Msg("сообщение постороннего пользователя пропущено")
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, text string) {
	switch {
	case strings.HasPrefix(text, "/start"):
		kb := mainMenuKeyboard()
		h.replyStyled(chatID, startMessage(), &kb)
	case strings.HasPrefix(text, "/help"):
		kb := backToMenuKeyboard()
		h.replyStyled(chatID, helpMessage(), &kb)
	case strings.HasPrefix(text, "/menu"):
		h.showMenu(chatID)
	case strings.HasPrefix(text, "/status"):
		h.showStatus(ctx, chatID)
	case strings.HasPrefix(text, "/chatid"):
		h.reply(chatID, fmt.Sprintf("Идентификатор этого чата: %d", chatID), nil)
	case strings.HasPrefix(text, "/cancel"):
		h.handleCancel(ctx, chatID, userID)
	case strings.HasPrefix(text, "/plan"):
		h.startPlan(ctx, chatID, userID)
	case strings.HasPrefix(text, "/topics"):
		h.showTopics(ctx, chatID, userID)
	default:
		h.reply(chatID, "Неизвестная команда. Список команд: /help", nil)
	}
}

// handleCancel снимает ожидаемый ввод и прерывает активный план.
func (h *Handler) handleCancel(ctx context.Context, chatID, userID int64) {
	hadPending := h.clearPending(userID)

	if sess, ok := h.plan.Session(userID); ok && !sess.Terminal() {
		h.applyPlanEvent(ctx, chatID, userID, planner.Cancel{})
		return
	}
	if hadPending {
		h.reply(chatID, "Ввод отменён.", nil)
		return
	}
	h.reply(chatID, "Сейчас нечего отменять.", nil)
}

// handlePhoto создаёт черновик из фото с подписью. Ожидание ручного текста
// считается закрытым: фото и есть ответ на этот запрос.
func (h *Handler) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	caption := strings.TrimSpace(msg.Caption)

	h.mu.Lock()
	if p, ok := h.pending[userID]; ok && p.kind == pendingManualPost {
		delete(h.pending, userID)
	}
	h.mu.Unlock()

	if caption == "" {
		h.reply(chatID, "Добавьте подпись к фото: она станет текстом поста.", nil)
		return
	}

	mediaKey := ""
	if h.media == nil {
		h.reply(chatID, "Хранилище вложений не настроено, пост будет создан без фото.", nil)
	} else {
		key, err := h.storePhoto(ctx, msg.Photo)
		if err != nil {
			h.log.Error().Err(err).Msg("вложение не сохранено")
			h.reply(chatID, "Не удалось сохранить вложение, пост будет создан без него.", nil)
		} else {
			mediaKey = key
		}
	}

	post, err := h.posts.CreateDraft(ctx, caption, domain.PostOriginManual, "", mediaKey)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.showPreview(ctx, chatID, post.ID)
}

// storePhoto скачивает самый крупный вариант фото и кладёт его в хранилище.
func (h *Handler) storePhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) (string, error) {
	fileID := sizes[len(sizes)-1].FileID

	start := time.Now()
	fileURL, err := h.bot.GetFileDirectURL(fileID)
	metrics.ObserveNetworkRequest("telegram_bot", "get_file", "file", start, err)
	if err != nil {
		return "", fmt.Errorf("ссылка на файл: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	start = time.Now()
	resp, err := h.files.Do(req)
	metrics.ObserveNetworkRequest("telegram", "download_file", "file", start, err)
	if err != nil {
		return "", fmt.Errorf("скачивание файла: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("скачивание файла: статус %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := uuid.NewString()
	if err := h.media.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// tryPendingInput передаёт свободный текст обработчику ожидаемого ввода.
// Запись ожидания снимается до обработки: при ошибке валидации обработчик
// взводит её заново сам.
func (h *Handler) tryPendingInput(ctx context.Context, chatID, userID int64, text string) bool {
	h.mu.Lock()
	pend, ok := h.pending[userID]
	if ok {
		delete(h.pending, userID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}

	switch pend.kind {
	case pendingManualPost:
		h.createManualDraft(ctx, chatID, userID, text)
	case pendingPrompt:
		h.generateDraft(ctx, chatID, text)
	case pendingEdit:
		h.applyEdit(ctx, chatID, userID, pend.postID, text)
	case pendingImprove:
		h.applyImprove(ctx, chatID, pend.postID, text)
	case pendingCustomSchedule:
		h.applyScheduleInput(ctx, chatID, userID, pend.postID, text, false)
	case pendingReschedule:
		h.applyScheduleInput(ctx, chatID, userID, pend.postID, text, true)
	case pendingTopicName:
		h.addTopic(ctx, chatID, userID, text)
	}
	return true
}

func (h *Handler) setPending(userID int64, kind pendingKind, postID int64) {
	h.mu.Lock()
	h.pending[userID] = pendingInput{kind: kind, postID: postID}
	h.mu.Unlock()
}

func (h *Handler) clearPending(userID int64) bool {
	h.mu.Lock()
	_, ok := h.pending[userID]
	delete(h.pending, userID)
	h.mu.Unlock()
	return ok
}

func (h *Handler) createManualDraft(ctx context.Context, chatID, userID int64, text string) {
	post, err := h.posts.CreateDraft(ctx, text, domain.PostOriginManual, "", "")
	if err != nil {
		if domain.IsValidation(err) {
			h.setPending(userID, pendingManualPost, 0)
			h.reply(chatID, "Текст не подходит: "+errText(err)+" Отправьте другой вариант.", nil)
			return
		}
		h.replyErr(chatID, err)
		return
	}
	h.showPreview(ctx, chatID, post.ID)
}

func (h *Handler) generateDraft(ctx context.Context, chatID int64, prompt string) {
	if h.gen == nil {
		h.reply(chatID, "Генерация текста не настроена.", nil)
		return
	}
	h.reply(chatID, "Генерирую текст...", nil)
	content, err := h.gen.Generate(ctx, prompt)
	if err != nil {
		kb := retryGenerationKeyboard()
		h.reply(chatID, "Генерация не удалась: "+errText(err), &kb)
		return
	}
	post, err := h.posts.CreateDraft(ctx, content, domain.PostOriginGenerated, prompt, "")
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.showPreview(ctx, chatID, post.ID)
}

func (h *Handler) applyEdit(ctx context.Context, chatID, userID, postID int64, text string) {
	if _, err := h.posts.UpdateContent(ctx, postID, text); err != nil {
		if domain.IsValidation(err) {
			h.setPending(userID, pendingEdit, postID)
			h.reply(chatID, "Текст не подходит: "+errText(err)+" Отправьте другой вариант.", nil)
			return
		}
		h.replyErr(chatID, err)
		return
	}
	h.showPreview(ctx, chatID, postID)
}

func (h *Handler) applyImprove(ctx context.Context, chatID, postID int64, instructions string) {
	if h.gen == nil {
		h.reply(chatID, "Генерация текста не настроена.", nil)
		return
	}
	post, err := h.posts.Get(ctx, postID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.reply(chatID, "Переписываю текст...", nil)
	improved, err := h.gen.Improve(ctx, post.Content, instructions)
	if err != nil {
		h.reply(chatID, "Не получилось переписать: "+errText(err), nil)
		return
	}
	if _, err := h.posts.UpdateContent(ctx, postID, improved); err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.showPreview(ctx, chatID, postID)
}

func (h *Handler) applyScheduleInput(ctx context.Context, chatID, userID, postID int64, raw string, move bool) {
	at, err := h.parseScheduleInput(raw)
	if err != nil {
		kind := pendingCustomSchedule
		if move {
			kind = pendingReschedule
		}
		h.setPending(userID, kind, postID)
		h.reply(chatID, errText(err)+" Формат: 31.12.2026 09:30.", nil)
		return
	}
	if move {
		h.reschedulePost(ctx, chatID, postID, at)
		return
	}
	h.schedulePostAt(ctx, chatID, postID, at)
}

// parseScheduleInput разбирает дату и время в часовом поясе оператора.
// Принимается только будущий момент.
func (h *Handler) parseScheduleInput(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range scheduleInputLayouts {
		at, err := time.ParseInLocation(layout, raw, h.loc)
		if err != nil {
			continue
		}
		if !at.After(h.clock.Now().In(h.loc)) {
			return time.Time{}, domain.NewValidationError("at", "этот момент уже прошёл")
		}
		return at, nil
	}
	return time.Time{}, domain.NewValidationError("at", fmt.Sprintf("не удалось разобрать дату %q", raw))
}

func (h *Handler) schedulePostAt(ctx context.Context, chatID, postID int64, at time.Time) {
	sched, err := h.sched.SchedulePost(ctx, postID, at)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Пост #%d выйдет %s (%s).", postID,
		telegram.FormatDateTime(sched.ScheduledFor, h.loc),
		telegram.FormatRelative(h.clock.Now(), sched.ScheduledFor)), nil)
}

func (h *Handler) reschedulePost(ctx context.Context, chatID, postID int64, at time.Time) {
	sched, err := h.sched.Reschedule(ctx, postID, at)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Пост #%d перенесён на %s (%s).", postID,
		telegram.FormatDateTime(sched.ScheduledFor, h.loc),
		telegram.FormatRelative(h.clock.Now(), sched.ScheduledFor)), nil)
}

func (h *Handler) addTopic(ctx context.Context, chatID, userID int64, name string) {
	if _, err := h.topics.AddTopic(ctx, userID, name); err != nil {
		if errors.Is(err, topics.ErrTopicName) || domain.IsValidation(err) {
			h.setPending(userID, pendingTopicName, 0)
			h.reply(chatID, errText(err)+". Отправьте другое имя.", nil)
			return
		}
		h.replyErr(chatID, err)
		return
	}
	h.showTopics(ctx, chatID, userID)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		return
	}
	if h.authorized(cb.From.ID) {
		h.dispatchCallback(ctx, cb)
	}

	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) dispatchCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID
	data := cb.Data

	switch {
	case data == "menu":
		h.showMenu(chatID)
	case data == "help":
		kb := backToMenuKeyboard()
		h.replyStyled(chatID, helpMessage(), &kb)
	case data == "status":
		h.showStatus(ctx, chatID)
	case data == "stats":
		h.showStatistics(ctx, chatID)
	case data == "settings":
		h.showSettings(chatID)
	case data == "new_post":
		kb := newPostKeyboard(h.gen != nil)
		h.replyStyled(chatID, newPostMessage(), &kb)
	case data == "post_manual":
		h.setPending(userID, pendingManualPost, 0)
		h.reply(chatID, "Отправьте текст поста. Длинный текст будет разбит на тред автоматически.", nil)
	case data == "post_ai":
		if h.gen == nil {
			h.reply(chatID, "Генерация текста не настроена.", nil)
			return
		}
		h.setPending(userID, pendingPrompt, 0)
		h.reply(chatID, "Отправьте промпт: о чём написать пост.", nil)
	case data == "scheduled":
		h.showScheduled(ctx, chatID, 0)
	case strings.HasPrefix(data, "sched_page:"):
		h.showScheduled(ctx, chatID, int(parseID(data)))
	case data == "topics":
		h.showTopics(ctx, chatID, userID)
	case data == "topic_add":
		h.setPending(userID, pendingTopicName, 0)
		h.reply(chatID, "Отправьте имя темы, от 3 до 30 символов.", nil)
	case data == "topic_clear":
		h.clearTopics(ctx, chatID, userID)
	case strings.HasPrefix(data, "topic_gen:"):
		h.generateFromTopic(ctx, chatID, userID, parseID(data))
	case strings.HasPrefix(data, "topic_del:"):
		h.removeTopic(ctx, chatID, userID, parseID(data))
	case data == "plan_start":
		h.startPlan(ctx, chatID, userID)
	case strings.HasPrefix(data, "plan_day:"):
		day, err := strconv.Atoi(strings.TrimPrefix(data, "plan_day:"))
		if err != nil {
			h.log.Warn().Str("data", data).Msg("callback с нечисловым днём")
			return
		}
		h.togglePlanDay(ctx, cb, day)
	case data == "plan_days_done":
		h.applyPlanEvent(ctx, chatID, userID, planner.DaysDone{})
	case data == "plan_manual":
		h.applyPlanEvent(ctx, chatID, userID, planner.ChooseManual{})
	case data == "plan_ai":
		h.applyPlanEvent(ctx, chatID, userID, planner.ChooseGenerated{})
	case data == "plan_confirm":
		h.applyPlanEvent(ctx, chatID, userID, planner.Confirm{})
	case data == "plan_cancel":
		h.applyPlanEvent(ctx, chatID, userID, planner.Cancel{})
	case strings.HasPrefix(data, "preview:"):
		h.showPreview(ctx, chatID, parseID(data))
	case strings.HasPrefix(data, "publish:"):
		h.publishPost(ctx, chatID, parseID(data))
	case strings.HasPrefix(data, "schedule:"):
		id := parseID(data)
		kb := scheduleOptionsKeyboard(id)
		h.reply(chatID, fmt.Sprintf("Когда опубликовать пост #%d?", id), &kb)
	case strings.HasPrefix(data, "sched_1h:"):
		h.schedulePostAt(ctx, chatID, parseID(data), h.clock.Now().Add(time.Hour))
	case strings.HasPrefix(data, "sched_3h:"):
		h.schedulePostAt(ctx, chatID, parseID(data), h.clock.Now().Add(3*time.Hour))
	case strings.HasPrefix(data, "sched_tomorrow:"):
		h.schedulePostAt(ctx, chatID, parseID(data), h.tomorrowMorning())
	case strings.HasPrefix(data, "sched_custom:"):
		h.setPending(userID, pendingCustomSchedule, parseID(data))
		h.reply(chatID, fmt.Sprintf("Отправьте дату и время публикации, формат 31.12.2026 09:30, пояс %s.", h.loc.String()), nil)
	case strings.HasPrefix(data, "unschedule:"):
		h.unschedulePost(ctx, chatID, parseID(data))
	case strings.HasPrefix(data, "resched:"):
		h.setPending(userID, pendingReschedule, parseID(data))
		h.reply(chatID, fmt.Sprintf("Отправьте новую дату и время, формат 31.12.2026 09:30, пояс %s.", h.loc.String()), nil)
	case strings.HasPrefix(data, "edit:"):
		h.setPending(userID, pendingEdit, parseID(data))
		h.reply(chatID, "Отправьте новый текст поста.", nil)
	case strings.HasPrefix(data, "improve:"):
		if h.gen == nil {
			h.reply(chatID, "Генерация текста не настроена.", nil)
			return
		}
		h.setPending(userID, pendingImprove, parseID(data))
		h.reply(chatID, "Отправьте пожелания: что изменить в тексте.", nil)
	case strings.HasPrefix(data, "delete:"):
		id := parseID(data)
		kb := confirmDeleteKeyboard(id)
		h.reply(chatID, fmt.Sprintf("Удалить пост #%d без возможности восстановления?", id), &kb)
	case strings.HasPrefix(data, "confirm_delete:"):
		h.deletePost(ctx, chatID, parseID(data))
	case strings.HasPrefix(data, "cancel_delete:"):
		h.reply(chatID, "Удаление отменено.", nil)
		h.showPreview(ctx, chatID, parseID(data))
	case data == "noop":
	default:
		h.log.Warn().Str("data", data).Msg("неизвестный callback")
	}
}

// tomorrowMorning возвращает завтрашние 09:00 в поясе оператора.
func (h *Handler) tomorrowMorning() time.Time {
	now := h.clock.Now().In(h.loc)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 9, 0, 0, 0, h.loc)
}

func (h *Handler) showMenu(chatID int64) {
	kb := mainMenuKeyboard()
	h.replyStyled(chatID, menuMessage(), &kb)
}

func (h *Handler) showPreview(ctx context.Context, chatID, postID int64) {
	post, err := h.posts.Get(ctx, postID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	kb := previewKeyboard(post, h.gen != nil)
	h.replyStyled(chatID, previewMessage(post, h.clock.Now(), h.loc), &kb)
}

func (h *Handler) showScheduled(ctx context.Context, chatID int64, page int) {
	pending, err := h.posts.ListPending(ctx)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	text, kb := scheduledListView(pending, page, h.clock.Now(), h.loc)
	h.replyStyled(chatID, text, &kb)
}

func (h *Handler) showStatistics(ctx context.Context, chatID int64) {
	stats, err := h.posts.Statistics(ctx)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	kb := backToMenuKeyboard()
	h.replyStyled(chatID, statisticsMessage(stats), &kb)
}

func (h *Handler) showSettings(chatID int64) {
	kb := backToMenuKeyboard()
	h.replyStyled(chatID, settingsMessage(h.loc.String(), h.gen != nil, h.media != nil), &kb)
}

// showStatus проверяет подключения к внешним сервисам и показывает сводку.
func (h *Handler) showStatus(ctx context.Context, chatID int64) {
	var xLine string
	if username, err := h.pub.TestConnection(ctx); err != nil {
		xLine = "X: " + errText(err)
	} else {
		xLine = "X: подключено (@" + username + ")"
	}

	genLine := "Генератор: выключен"
	if h.gen != nil {
		if err := h.gen.TestConnection(ctx); err != nil {
			genLine = "Генератор: " + errText(err)
		} else {
			genLine = "Генератор: подключён"
		}
	}

	stats, statsErr := h.posts.Statistics(ctx)
	if statsErr != nil {
		h.log.Error().Err(statsErr).Msg("статистика для сводки не получена")
	}

	kb := backToMenuKeyboard()
	h.replyStyled(chatID, statusMessage(xLine, genLine, stats, statsErr == nil), &kb)
}

func (h *Handler) publishPost(ctx context.Context, chatID, postID int64) {
	h.reply(chatID, fmt.Sprintf("Публикую пост #%d...", postID), nil)

	outcome, err := h.sched.PublishNow(ctx, postID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	if outcome.Published {
		lines := []string{fmt.Sprintf("Пост #%d опубликован.", outcome.PostID)}
		if outcome.Segments > 1 {
			lines = append(lines, fmt.Sprintf("Сегментов в треде: %d", outcome.Segments))
		}
		if outcome.PlatformID != "" {
			lines = append(lines, "https://twitter.com/i/web/status/"+outcome.PlatformID)
		}
		h.reply(chatID, strings.Join(lines, "\n"), nil)
		return
	}

	kb := retryPublishKeyboard(postID)
	h.reply(chatID, "Публикация не удалась: "+outcome.ErrText+"\nПост сохранён, попытку можно повторить.", &kb)
}

func (h *Handler) unschedulePost(ctx context.Context, chatID, postID int64) {
	if err := h.sched.CancelSchedule(ctx, postID); err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Публикация поста #%d отменена.", postID), nil)
}

// deletePost удаляет пост вместе с таймером и вложением.
func (h *Handler) deletePost(ctx context.Context, chatID, postID int64) {
	post, err := h.sched.DeletePost(ctx, postID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	if post.MediaKey != "" && h.media != nil {
		if err := h.media.Delete(ctx, post.MediaKey); err != nil {
			h.log.Warn().Err(err).Str("key", post.MediaKey).Msg("вложение удалённого поста осталось в хранилище")
		}
	}
	h.reply(chatID, fmt.Sprintf("Пост #%d удалён.", postID), nil)
}

func (h *Handler) showTopics(ctx context.Context, chatID, userID int64) {
	items, err := h.topics.ListTopics(ctx, userID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	text, kb := topicsView(items, topics.DefaultLimit)
	h.replyStyled(chatID, text, &kb)
}

func (h *Handler) generateFromTopic(ctx context.Context, chatID, userID, topicID int64) {
	if h.gen == nil {
		h.reply(chatID, "Генерация текста не настроена.", nil)
		return
	}
	topic, err := h.topics.GetTopic(ctx, topicID, userID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Генерирую пост по теме «%s»...", topic.Name), nil)

	content, err := h.gen.GenerateForTopic(ctx, topic.Name, posts.MaxSegmentLength)
	if err != nil {
		h.reply(chatID, "Генерация не удалась: "+errText(err), nil)
		return
	}
	post, err := h.posts.CreateDraft(ctx, content, domain.PostOriginGenerated, "тема: "+topic.Name, "")
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.showPreview(ctx, chatID, post.ID)
}

func (h *Handler) removeTopic(ctx context.Context, chatID, userID, topicID int64) {
	if err := h.topics.RemoveTopic(ctx, topicID, userID); err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.showTopics(ctx, chatID, userID)
}

func (h *Handler) clearTopics(ctx context.Context, chatID, userID int64) {
	n, err := h.topics.RemoveAllTopics(ctx, userID)
	if err != nil {
		h.replyErr(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Удалено тем: %d.", n), nil)
	h.showTopics(ctx, chatID, userID)
}

// reply отправляет обычный текст. Длинный текст разбивается на части,
// клавиатура прикрепляется только к первой.
func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	h.send(chatID, text, keyboard, "")
}

// replyStyled отправляет сообщение с разметкой MarkdownV2. Динамические
// части текста экранированы на этапе сборки.
func (h *Handler) replyStyled(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	h.send(chatID, text, keyboard, tgbotapi.ModeMarkdownV2)
}

func (h *Handler) send(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup, parseMode string) {
	for i, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if parseMode != "" {
			msg.ParseMode = parseMode
		}
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось отправить сообщение")
		}
	}
}

func (h *Handler) replyErr(chatID int64, err error) {
	h.reply(chatID, "Ошибка: "+errText(err), nil)
}

// parseID извлекает идентификатор из данных callback вида "name:id".
// Ноль означает некорректные данные.
func parseID(data string) int64 {
	parts := strings.Split(data, ":")
	if len(parts) != 2 {
		return 0
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// errText переводит ошибку в сообщение для оператора. Технические
// подробности остаются в журнале.
func errText(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}
	if errors.Is(err, topics.ErrTopicLimit) || errors.Is(err, topics.ErrTopicName) {
		return err.Error()
	}
	if domain.IsSchedulerLookup(err) {
		return "запись расписания уже неактивна, обновите просмотр"
	}
	if ee, ok := domain.AsExternal(err); ok {
		return externalText(ee)
	}
	return "внутренний сбой, подробности в журнале"
}

func externalText(e *domain.ExternalServiceError) string {
	switch e.Category {
	case domain.ServiceErrorRateLimited:
		return e.Service + ": превышен лимит запросов, попробуйте позже"
	case domain.ServiceErrorAuth:
		return e.Service + ": ошибка авторизации, проверьте ключи доступа"
	case domain.ServiceErrorQuota:
		return e.Service + ": исчерпана квота"
	case domain.ServiceErrorPolicy:
		return e.Service + ": контент отклонён правилами платформы"
	case domain.ServiceErrorDuplicate:
		return e.Service + ": такой пост уже публиковался"
	case domain.ServiceErrorLength:
		return e.Service + ": текст превышает лимит платформы"
	case domain.ServiceErrorConnection:
		return e.Service + ": сервис недоступен, попробуйте позже"
	default:
		return e.Error()
	}
}
