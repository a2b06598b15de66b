package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"postflow-bot/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.x.com/2"
	tokenURL       = "https://api.x.com/2/oauth2/token"
)

// Credentials — OAuth2-учётка оператора для user context запросов.
// RefreshToken может быть пустым, тогда AccessToken используется как есть.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

// Client выполняет запросы к X API v2. Все вызовы идут через общий circuit
// breaker: после серии отказов запросы перестают уходить в сеть, пока API
// не оживёт.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

// NewClient создаёт клиента X API.
func NewClient(creds Credentials, baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	var source oauth2.TokenSource
	if creds.RefreshToken != "" {
		// Срок жизни выданного токена неизвестен, истёкший Expiry заставит
		// oauth2 обновить пару при первом же запросе.
		seed := &oauth2.Token{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			Expiry:       time.Now().Add(-time.Minute),
		}
		source = conf.TokenSource(context.Background(), seed)
	} else {
		source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
	}
	httpClient := oauth2.NewClient(context.Background(), source)
	httpClient.Timeout = timeout

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "x-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{http: httpClient, baseURL: baseURL, breaker: breaker}
}

// Tweet — созданный твит.
type Tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// User — владелец учётки.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// APIError — ошибка X API с HTTP-статусом для классификации.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("x api: %s", e.Detail)
	}
	if e.Title != "" {
		return fmt.Sprintf("x api: %s", e.Title)
	}
	return fmt.Sprintf("x api: unexpected status %d", e.StatusCode)
}

type createTweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// CreateTweet публикует твит. inReplyTo цепляет его ответом к уже
// созданному твиту, mediaIDs прикладывают загруженные медиа.
func (c *Client) CreateTweet(ctx context.Context, text, inReplyTo string, mediaIDs []string) (Tweet, error) {
	reqBody := createTweetRequest{Text: text}
	if inReplyTo != "" {
		reqBody.Reply = &tweetReply{InReplyToTweetID: inReplyTo}
	}
	if len(mediaIDs) > 0 {
		reqBody.Media = &tweetMedia{MediaIDs: mediaIDs}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Tweet{}, fmt.Errorf("x api: marshal request: %w", err)
	}

	respBody, err := c.do(ctx, "create_tweet", http.MethodPost, "/tweets", bytes.NewReader(body), "application/json")
	if err != nil {
		return Tweet{}, err
	}
	var parsed struct {
		Data Tweet `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Tweet{}, fmt.Errorf("x api: decode response: %w", err)
	}
	if parsed.Data.ID == "" {
		return Tweet{}, fmt.Errorf("x api: response without tweet id")
	}
	return parsed.Data, nil
}

// DeleteTweet удаляет твит.
func (c *Client) DeleteTweet(ctx context.Context, id string) error {
	respBody, err := c.do(ctx, "delete_tweet", http.MethodDelete, "/tweets/"+id, nil, "")
	if err != nil {
		return err
	}
	var parsed struct {
		Data struct {
			Deleted bool `json:"deleted"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("x api: decode response: %w", err)
	}
	if !parsed.Data.Deleted {
		return fmt.Errorf("x api: tweet %s was not deleted", id)
	}
	return nil
}

// Me возвращает учётку, от имени которой работает клиент.
func (c *Client) Me(ctx context.Context) (User, error) {
	respBody, err := c.do(ctx, "me", http.MethodGet, "/users/me", nil, "")
	if err != nil {
		return User{}, err
	}
	var parsed struct {
		Data User `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return User{}, fmt.Errorf("x api: decode response: %w", err)
	}
	return parsed.Data, nil
}

// UploadMedia загружает медиа и возвращает его идентификатор для
// прикрепления к твиту.
func (c *Client) UploadMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="media"; filename="media"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("x api: build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("x api: build multipart: %w", err)
	}
	if err := writer.WriteField("media_category", "tweet_image"); err != nil {
		return "", fmt.Errorf("x api: build multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("x api: build multipart: %w", err)
	}

	respBody, err := c.do(ctx, "upload_media", http.MethodPost, "/media/upload", &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("x api: decode response: %w", err)
	}
	if parsed.Data.ID == "" {
		return "", fmt.Errorf("x api: response without media id")
	}
	return parsed.Data.ID, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body io.Reader, contentType string) ([]byte, error) {
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("x api: build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("x api: do request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("x api: read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, parseAPIError(resp.StatusCode, respBody)
		}
		return respBody, nil
	})
	metrics.ObserveNetworkRequest("x", operation, method, start, err)
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// parseAPIError разбирает оба формата ошибок X API: problem-json с
// title/detail и список errors с message.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &problem); err == nil {
		apiErr.Title = problem.Title
		apiErr.Detail = problem.Detail
		if apiErr.Detail == "" && len(problem.Errors) > 0 {
			apiErr.Detail = problem.Errors[0].Message
		}
	}
	return apiErr
}
