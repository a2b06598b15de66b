package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/xapi"
)

type tweetAPI interface {
	CreateTweet(ctx context.Context, text, inReplyTo string, mediaIDs []string) (xapi.Tweet, error)
	Me(ctx context.Context) (xapi.User, error)
	UploadMedia(ctx context.Context, data []byte, contentType string) (string, error)
}

// X публикует посты и треды в X. Медиа берётся из хранилища по ключу и
// прикрепляется к первому твиту.
type X struct {
	api   tweetAPI
	media domain.MediaStore
	log   zerolog.Logger
}

var _ domain.Publisher = (*X)(nil)

// NewX создаёт публикатор. media может быть nil, тогда ключи медиа
// игнорируются.
func NewX(api tweetAPI, media domain.MediaStore, log zerolog.Logger) *X {
	return &X{api: api, media: media, log: log}
}

// PublishSingle публикует один твит и возвращает его идентификатор.
func (x *X) PublishSingle(ctx context.Context, text, mediaKey string) (string, error) {
	mediaIDs, err := x.uploadMedia(ctx, mediaKey)
	if err != nil {
		return "", err
	}
	tweet, err := x.api.CreateTweet(ctx, text, "", mediaIDs)
	if err != nil {
		return "", classify(err)
	}
	x.log.Info().Str("tweet_id", tweet.ID).Msg("твит опубликован")
	return tweet.ID, nil
}

// PublishThread публикует цепочку твитов, каждый следующий отвечает на
// предыдущий. При сбое возвращаются идентификаторы уже созданных твитов
// вместе с ошибкой.
func (x *X) PublishThread(ctx context.Context, texts []string, mediaKey string) ([]string, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("публикация треда: пустой список сегментов")
	}
	mediaIDs, err := x.uploadMedia(ctx, mediaKey)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(texts))
	prev := ""
	for i, text := range texts {
		attach := mediaIDs
		if i > 0 {
			attach = nil
		}
		tweet, err := x.api.CreateTweet(ctx, text, prev, attach)
		if err != nil {
			return ids, classify(err)
		}
		ids = append(ids, tweet.ID)
		prev = tweet.ID
		x.log.Debug().Int("segment", i+1).Int("total", len(texts)).Str("tweet_id", tweet.ID).Msg("сегмент треда опубликован")
	}
	x.log.Info().Int("segments", len(ids)).Msg("тред опубликован")
	return ids, nil
}

// TestConnection проверяет учётку и возвращает её @username.
func (x *X) TestConnection(ctx context.Context) (string, error) {
	user, err := x.api.Me(ctx)
	if err != nil {
		return "", classify(err)
	}
	return "@" + user.Username, nil
}

func (x *X) uploadMedia(ctx context.Context, key string) ([]string, error) {
	if key == "" || x.media == nil {
		return nil, nil
	}
	data, contentType, err := x.media.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("чтение медиа %s: %w", key, err)
	}
	id, err := x.api.UploadMedia(ctx, data, contentType)
	if err != nil {
		return nil, classify(err)
	}
	return []string{id}, nil
}

// classify переводит ошибку клиента в категорию для пользовательского
// сообщения.
func classify(err error) error {
	var apiErr *xapi.APIError
	if errors.As(err, &apiErr) {
		category, message := categorize(apiErr)
		return &domain.ExternalServiceError{Service: "x", Category: category, Message: message, Err: err}
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ExternalServiceError{Service: "x", Category: domain.ServiceErrorConnection, Message: "X недоступен, запросы временно приостановлены", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ExternalServiceError{Service: "x", Category: domain.ServiceErrorConnection, Message: "X не ответил вовремя", Err: err}
	default:
		return &domain.ExternalServiceError{Service: "x", Category: domain.ServiceErrorConnection, Message: "нет соединения с X", Err: err}
	}
}

func categorize(apiErr *xapi.APIError) (domain.ServiceErrorCategory, string) {
	detail := strings.ToLower(apiErr.Detail + " " + apiErr.Title)
	switch {
	case apiErr.StatusCode == 429 || strings.Contains(detail, "rate limit"):
		return domain.ServiceErrorRateLimited, "лимит публикаций X исчерпан, подождите перед следующей попыткой"
	// Дубликат приходит как 403, поэтому проверяется раньше авторизации.
	case strings.Contains(detail, "duplicate"):
		return domain.ServiceErrorDuplicate, "такой твит уже опубликован"
	case strings.Contains(detail, "too long") || strings.Contains(detail, "length"):
		return domain.ServiceErrorLength, "твит длиннее допустимого лимита"
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return domain.ServiceErrorAuth, "авторизация в X не прошла, проверьте ключи приложения"
	case apiErr.StatusCode >= 500:
		return domain.ServiceErrorServer, "X временно недоступен, попробуйте позже"
	default:
		return domain.ServiceErrorUnknown, apiErr.Detail
	}
}
