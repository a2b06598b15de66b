package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/pressly/goose/v3"

	"postflow-bot/internal/infra/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	flags = flag.NewFlagSet("migrate", flag.ExitOnError)
	dir   = flags.String("dir", "migrations", "каталог с файлами миграций")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("использование: migrate COMMAND\n\nКоманды:\n  up\n  down\n  status")
	}

	cfg := config.Load()

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("не удалось подключиться к БД: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("не удалось выбрать диалект: %v", err)
	}

	switch command := args[0]; command {
	case "up":
		if err := goose.Up(db, *dir); err != nil {
			log.Fatalf("миграция up не прошла: %v", err)
		}
	case "down":
		if err := goose.Down(db, *dir); err != nil {
			log.Fatalf("миграция down не прошла: %v", err)
		}
	case "status":
		if err := goose.Status(db, *dir); err != nil {
			log.Fatalf("статус миграций не получен: %v", err)
		}
	default:
		log.Fatalf("неизвестная команда: %s", command)
	}
}
