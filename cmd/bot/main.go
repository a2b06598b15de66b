package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"postflow-bot/internal/adapters/bot"
	"postflow-bot/internal/adapters/generator"
	"postflow-bot/internal/adapters/notifier"
	"postflow-bot/internal/adapters/publisher"
	"postflow-bot/internal/adapters/repo"
	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/cache"
	"postflow-bot/internal/infra/config"
	"postflow-bot/internal/infra/db"
	"postflow-bot/internal/infra/log"
	"postflow-bot/internal/infra/metrics"
	"postflow-bot/internal/infra/objstore"
	"postflow-bot/internal/infra/openai"
	"postflow-bot/internal/infra/timer"
	"postflow-bot/internal/infra/xapi"
	"postflow-bot/internal/usecase/planner"
	"postflow-bot/internal/usecase/posts"
	"postflow-bot/internal/usecase/scheduling"
	"postflow-bot/internal/usecase/topics"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, fmt.Sprintf(":%d", cfg.Ports.Metrics))

	repoAdapter := repo.NewPostgres(pool)
	postService := posts.NewService(repoAdapter, repoAdapter)
	topicService := topics.NewService(repoAdapter, topics.DefaultLimit)

	clock := timer.SystemClock{}
	registry := timer.NewRegistry(clock)
	defer registry.Stop()

	// Публикация в X обязательна: бот без неё бесполезен, падаем сразу.
	if !cfg.XEnabled() {
		logger.Fatal().Msg("не заданы X_CLIENT_ID, X_CLIENT_SECRET и X_ACCESS_TOKEN")
	}

	var media domain.MediaStore
	if cfg.MediaEnabled() {
		r2, err := objstore.NewR2(ctx, objstore.Options{
			Endpoint:  cfg.Media.Endpoint,
			AccessKey: cfg.Media.AccessKey,
			SecretKey: cfg.Media.SecretKey,
			Bucket:    cfg.Media.Bucket,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось создать хранилище медиа")
		}
		media = r2
	} else {
		logger.Warn().Msg("хранилище медиа не настроено, фото будут игнорироваться")
	}

	xClient := xapi.NewClient(xapi.Credentials{
		ClientID:     cfg.X.ClientID,
		ClientSecret: cfg.X.ClientSecret,
		AccessToken:  cfg.X.AccessToken,
		RefreshToken: cfg.X.RefreshToken,
	}, "", 30*time.Second, logger)
	pub := publisher.NewX(xClient, media, logger)

	var gen domain.Generator
	if cfg.OpenAIEnabled() {
		gen = generator.NewOpenAI(openai.NewClient(cfg.OpenAI.APIKey, "", 60*time.Second), cfg.OpenAI.Model, 60*time.Second)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY не задан, генерация текста выключена")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	logger.Info().Str("bot", botAPI.Self.UserName).Msg("бот авторизован")

	var latch domain.FireLatch
	if cfg.RedisAddr != "" {
		latch = cache.NewRedisLatch(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		latch = cache.NewLocalLatch()
		logger.Warn().Msg("REDIS_ADDR не задан, защита от двойного срабатывания только в памяти процесса")
	}

	schedService := scheduling.NewService(postService, registry, pub, notifier.NewTelegram(botAPI, logger), latch, clock, cfg.Telegram.OwnerID, cfg.Scheduler.RehydrateGrace, logger)

	// Восстановление таймеров до приёма обновлений: просроченные записи
	// должны отработать раньше, чем оператор начнёт менять расписание.
	restored, err := schedService.Rehydrate(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось восстановить расписание")
	}
	logger.Info().Int("timers", restored).Msg("расписание восстановлено")

	planService := planner.NewService(postService, schedService, gen, repoAdapter, clock, loc, logger)

	h := bot.NewHandler(botAPI, logger, postService, schedService, planService, topicService, pub, gen, media, cfg.Telegram.OwnerID, loc, clock)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := botAPI.GetUpdatesChan(u)

	logger.Info().Str("tz", loc.String()).Msg("бот запущен, слушаю обновления")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("остановка бота")
			botAPI.StopReceivingUpdates()
			return
		case update := <-updates:
			h.HandleUpdate(ctx, update)
		}
	}
}

var _ domain.PostRepo = (*repo.Postgres)(nil)
var _ domain.TopicRepo = (*repo.Postgres)(nil)
var _ domain.BusinessMetricRepo = (*repo.Postgres)(nil)
var _ domain.TimerRegistry = (*timer.Registry)(nil)
var _ domain.Clock = timer.SystemClock{}
