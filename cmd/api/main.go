package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"postflow-bot/internal/adapters/repo"
	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/config"
	"postflow-bot/internal/infra/db"
	httpinfra "postflow-bot/internal/infra/http"
	"postflow-bot/internal/infra/log"
	"postflow-bot/internal/infra/metrics"
	"postflow-bot/internal/usecase/posts"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, fmt.Sprintf(":%d", cfg.Ports.Metrics))

	repoAdapter := repo.NewPostgres(pool)
	postService := posts.NewService(repoAdapter, repoAdapter)

	srv := httpinfra.NewServer(logger, fmt.Sprintf(":%d", cfg.Ports.API))

	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httpinfra.WriteError(w, http.StatusServiceUnavailable, "БД недоступна")
			return
		}
		httpinfra.WriteJSON(w, map[string]string{"status": "ok"})
	})

	srv.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.TokenAuthMiddleware(cfg.APIToken))

		protected.Get("/api/v1/posts", func(w http.ResponseWriter, r *http.Request) {
			limit := 20
			if raw := r.URL.Query().Get("limit"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed <= 0 {
					httpinfra.WriteError(w, http.StatusBadRequest, "limit должен быть положительным числом")
					return
				}
				limit = parsed
			}
			items, err := postService.ListRecent(r.Context(), limit)
			if err != nil {
				logger.Error().Err(err).Msg("api: список постов не получен")
				httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить посты")
				return
			}
			resp := make([]postResponse, 0, len(items))
			for _, p := range items {
				resp = append(resp, toPostResponse(p))
			}
			httpinfra.WriteJSON(w, resp)
		})

		protected.Get("/api/v1/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil || id <= 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, "некорректный id")
				return
			}
			post, err := postService.Get(r.Context(), id)
			if err != nil {
				if domain.IsNotFound(err) {
					httpinfra.WriteError(w, http.StatusNotFound, "пост не найден")
					return
				}
				logger.Error().Err(err).Int64("post_id", id).Msg("api: пост не получен")
				httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить пост")
				return
			}
			httpinfra.WriteJSON(w, toPostResponse(post))
		})

		protected.Get("/api/v1/scheduled", func(w http.ResponseWriter, r *http.Request) {
			pending, err := postService.ListPending(r.Context())
			if err != nil {
				logger.Error().Err(err).Msg("api: расписание не получено")
				httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить расписание")
				return
			}
			resp := make([]scheduledResponse, 0, len(pending))
			for _, item := range pending {
				resp = append(resp, scheduledResponse{
					PostID:       item.Post.ID,
					Content:      item.Post.Content,
					ScheduledFor: item.Schedule.ScheduledFor,
					JobID:        item.Schedule.JobID,
				})
			}
			httpinfra.WriteJSON(w, resp)
		})

		protected.Get("/api/v1/statistics", func(w http.ResponseWriter, r *http.Request) {
			stats, err := postService.Statistics(r.Context())
			if err != nil {
				logger.Error().Err(err).Msg("api: статистика не получена")
				httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить статистику")
				return
			}
			httpinfra.WriteJSON(w, statsResponse{
				Total:     stats.Total,
				Published: stats.Published,
				Scheduled: stats.Scheduled,
				Failed:    stats.Failed,
				Draft:     stats.Draft,
			})
		})
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type postResponse struct {
	ID           int64             `json:"id"`
	Content      string            `json:"content"`
	Origin       string            `json:"origin"`
	Status       string            `json:"status"`
	PlatformID   string            `json:"platform_id,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	MediaKey     string            `json:"media_key,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Segments     []segmentResponse `json:"segments,omitempty"`
}

type segmentResponse struct {
	Idx        int    `json:"idx"`
	Content    string `json:"content"`
	PlatformID string `json:"platform_id,omitempty"`
}

type scheduledResponse struct {
	PostID       int64     `json:"post_id"`
	Content      string    `json:"content"`
	ScheduledFor time.Time `json:"scheduled_for"`
	JobID        string    `json:"job_id"`
}

type statsResponse struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Scheduled int `json:"scheduled"`
	Failed    int `json:"failed"`
	Draft     int `json:"draft"`
}

func toPostResponse(p domain.Post) postResponse {
	resp := postResponse{
		ID:           p.ID,
		Content:      p.Content,
		Origin:       string(p.Origin),
		Status:       string(p.Status),
		PlatformID:   p.PlatformID,
		ErrorMessage: p.ErrorMessage,
		MediaKey:     p.MediaKey,
		CreatedAt:    p.CreatedAt,
		PublishedAt:  p.PublishedAt,
	}
	if p.Schedule != nil && p.Schedule.Status == domain.ScheduleStatusPending {
		at := p.Schedule.ScheduledFor
		resp.ScheduledFor = &at
	}
	for _, s := range p.Segments {
		resp.Segments = append(resp.Segments, segmentResponse{
			Idx:        s.Idx,
			Content:    s.Content,
			PlatformID: s.PlatformID,
		})
	}
	return resp
}
