package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию процессов PostFlow.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`

	Telegram struct {
		Token   string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
		OwnerID int64  `envconfig:"TELEGRAM_USER_ID" required:"true"`
	} `envconfig:""`

	X struct {
		ClientID     string `envconfig:"X_CLIENT_ID"`
		ClientSecret string `envconfig:"X_CLIENT_SECRET"`
		AccessToken  string `envconfig:"X_ACCESS_TOKEN"`
		RefreshToken string `envconfig:"X_REFRESH_TOKEN"`
	} `envconfig:""`

	OpenAI struct {
		APIKey string `envconfig:"OPENAI_API_KEY"`
		Model  string `envconfig:"OPENAI_MODEL" default:"gpt-5-mini"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN" required:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Media struct {
		Endpoint  string `envconfig:"R2_ENDPOINT"`
		AccessKey string `envconfig:"R2_ACCESS_KEY_ID"`
		SecretKey string `envconfig:"R2_SECRET_ACCESS_KEY"`
		Bucket    string `envconfig:"R2_BUCKET" default:"postflow-media"`
	} `envconfig:""`

	Scheduler struct {
		RehydrateGrace time.Duration `envconfig:"SCHEDULER_REHYDRATE_GRACE" default:"5s"`
	} `envconfig:""`

	// APIToken защищает админ-API. Пустое значение отключает проверку.
	APIToken string `envconfig:"API_TOKEN"`

	Ports struct {
		API     int `envconfig:"API_PORT" default:"8080"`
		Metrics int `envconfig:"METRICS_PORT" default:"9090"`
	} `envconfig:""`
}

// XEnabled сообщает, настроена ли публикация в X.
func (c AppConfig) XEnabled() bool {
	return c.X.ClientID != "" && c.X.ClientSecret != "" && c.X.AccessToken != ""
}

// OpenAIEnabled сообщает, настроена ли генерация текста.
func (c AppConfig) OpenAIEnabled() bool { return c.OpenAI.APIKey != "" }

// MediaEnabled сообщает, настроено ли хранилище медиа.
func (c AppConfig) MediaEnabled() bool {
	return c.Media.Endpoint != "" && c.Media.AccessKey != "" && c.Media.SecretKey != ""
}

// Load загружает конфиг из окружения. Файл .env, если есть, подхватывается
// до чтения переменных.
func Load() AppConfig {
	_ = godotenv.Load()

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
