package telegram

import (
	"fmt"
	"strings"
	"time"
)

var markdownV2Replacer = strings.NewReplacer(
	"\\", "\\\\",
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// EscapeMarkdownV2 экранирует спецсимволы Telegram MarkdownV2.
func EscapeMarkdownV2(text string) string {
	if text == "" {
		return ""
	}
	return markdownV2Replacer.Replace(text)
}

// FormatDateTime переводит момент из UTC в локальную зону и форматирует его
// для сообщений. Это единственное место, где время показывается оператору.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// FormatRelative описывает, через сколько наступит момент t.
func FormatRelative(now, t time.Time) string {
	d := t.Sub(now)
	if d < 0 {
		return "в прошлом"
	}

	switch {
	case d < time.Hour:
		minutes := int(d.Minutes())
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("через %d мин", minutes)
	case d < 24*time.Hour:
		return fmt.Sprintf("через %d ч", int(d.Hours()))
	case d < 48*time.Hour:
		return "завтра"
	case d < 7*24*time.Hour:
		return fmt.Sprintf("через %d дн", int(d.Hours()/24))
	default:
		return t.Format("02.01.2006")
	}
}

// Truncate обрезает текст до max рун, добавляя многоточие.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
