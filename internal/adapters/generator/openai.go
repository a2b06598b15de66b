package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"postflow-bot/internal/domain"
	openai "postflow-bot/internal/infra/openai"
)

const (
	defaultModel        = "gpt-5-mini"
	defaultTargetLen    = 280
	maxCompletionTokens = 500
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует генерацию текста поста через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.Generator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор постов.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

// Generate создаёт текст поста по свободному промпту оператора.
func (g *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	return g.complete(ctx, systemMessage(0), prompt, 0.7)
}

// GenerateForTopic создаёт одиночный пост по сохранённой теме.
func (g *OpenAI) GenerateForTopic(ctx context.Context, topic string, targetLen int) (string, error) {
	if targetLen <= 0 {
		targetLen = defaultTargetLen
	}
	prompt := fmt.Sprintf(`Напиши один пост для X на тему: %s

Пост должен уложиться в %d символов и не быть тредом.

Требования:
- по делу и с пользой для читателя
- профессиональный, но живой тон
- интересный факт или наблюдение внутри
- можно начать с уместного эмодзи`, topic, targetLen)
	return g.complete(ctx, systemMessage(targetLen), prompt, 0.7)
}

// Improve дорабатывает готовый текст, сохраняя его суть.
func (g *OpenAI) Improve(ctx context.Context, content, instructions string) (string, error) {
	if strings.TrimSpace(instructions) == "" {
		instructions = "сделай текст сильнее"
	}
	system := "Ты эксперт по соцсетям. Улучшай пост, сохраняя его основную мысль. " +
		"Делай текст яснее, живее и убедительнее. Не добавляй хэштеги, если их не было в оригинале. " +
		"Верни только текст поста, без пояснений."
	user := fmt.Sprintf("Улучши этот пост (%s):\n\n%s", instructions, content)
	return g.complete(ctx, system, user, 0.7)
}

// TestConnection выполняет минимальный запрос для проверки ключа.
func (g *OpenAI) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:               g.model,
		MaxCompletionTokens: 5,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleUser, Content: "Привет"},
		},
	}
	if _, err := g.client.CreateChatCompletion(ctx, req); err != nil {
		return classify(err)
	}
	return nil
}

func (g *OpenAI) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:               g.model,
		Temperature:         temperature,
		MaxCompletionTokens: maxCompletionTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: user},
		},
	}
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &domain.ExternalServiceError{Service: "openai", Category: domain.ServiceErrorServer, Message: "пустой ответ модели"}
	}
	return stripQuotes(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}

func systemMessage(maxLen int) string {
	msg := "Ты профессиональный автор контента для соцсетей. " +
		"Пиши ясные и цепляющие посты для X. "
	if maxLen > 0 {
		msg += fmt.Sprintf("Уложись в %d символов. ", maxLen)
	}
	msg += "Тон профессиональный и информативный. " +
		"Не добавляй хэштеги, если об этом не просили. Верни только текст поста, без пояснений."
	return msg
}

// stripQuotes снимает кавычки, в которые модель любит заворачивать ответ.
func stripQuotes(s string) string {
	pairs := [][2]string{{`"`, `"`}, {"«", "»"}}
	for _, p := range pairs {
		if strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) && len(s) > len(p[0])+len(p[1]) {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, p[0]), p[1]))
		}
	}
	return s
}

// classify переводит ошибку клиента в категорию для пользовательского
// сообщения.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		category, message := categorize(apiErr)
		return &domain.ExternalServiceError{Service: "openai", Category: category, Message: message, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ExternalServiceError{Service: "openai", Category: domain.ServiceErrorConnection, Message: "OpenAI не ответил вовремя", Err: err}
	}
	return &domain.ExternalServiceError{Service: "openai", Category: domain.ServiceErrorConnection, Message: "нет соединения с OpenAI", Err: err}
}

func categorize(apiErr *openai.APIError) (domain.ServiceErrorCategory, string) {
	code := strings.ToLower(apiErr.Code)
	text := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(code, "insufficient_quota") || strings.Contains(text, "quota"):
		return domain.ServiceErrorQuota, "квота OpenAI исчерпана, проверьте биллинг"
	case apiErr.StatusCode == 429 || strings.Contains(code, "rate_limit"):
		return domain.ServiceErrorRateLimited, "лимит запросов OpenAI, подождите немного"
	case apiErr.StatusCode == 401 || strings.Contains(text, "authentication"):
		return domain.ServiceErrorAuth, "ключ OpenAI недействителен, проверьте настройки"
	case strings.Contains(code, "content_filter") || strings.Contains(text, "content policy"):
		return domain.ServiceErrorPolicy, "запрос отклонён политикой OpenAI, переформулируйте промпт"
	case apiErr.StatusCode >= 500:
		return domain.ServiceErrorServer, "OpenAI временно недоступен"
	default:
		return domain.ServiceErrorUnknown, apiErr.Message
	}
}
