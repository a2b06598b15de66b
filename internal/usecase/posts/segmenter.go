package posts

import (
	"fmt"
	"strings"
)

// Лимиты платформы X на длину сообщения и размер треда.
const (
	MaxSegmentLength  = 280
	MaxThreadSegments = 25
)

// numberingReserve резервирует место под префикс нумерации вида "12/25 ".
const numberingReserve = 6

// NeedsSplit сообщает, потребует ли текст разбивки на тред.
func NeedsSplit(content string, maxLen int) bool {
	return len([]rune(content)) > maxLen
}

// SplitContent разбивает текст на упорядоченные сегменты треда длиной не
// больше maxLen. Точка разреза выбирается по убыванию приоритета: конец
// предложения, пустая строка, перенос строки, пробел; если ни одна не
// подходит, текст режется жёстко. Если сегментов больше одного, каждый
// получает префикс "i/n ". Функция детерминированная и без побочных
// эффектов.
func SplitContent(content string, maxLen int) []string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return []string{content}
	}

	effectiveMax := maxLen - numberingReserve

	var chunks []string
	remaining := runes
	for len(remaining) > 0 {
		if len(remaining) <= effectiveMax {
			chunks = append(chunks, strings.TrimSpace(string(remaining)))
			break
		}

		window := remaining[:effectiveMax]
		cut := cutPoint(window, effectiveMax)

		chunks = append(chunks, strings.TrimSpace(string(remaining[:cut])))
		remaining = []rune(strings.TrimSpace(string(remaining[cut:])))
	}

	if len(chunks) > 1 {
		for i := range chunks {
			chunks[i] = fmt.Sprintf("%d/%d %s", i+1, len(chunks), chunks[i])
		}
	}

	return chunks
}

// cutPoint подбирает позицию разреза внутри окна. Кандидат принимается,
// только если стоит достаточно глубоко в окне, иначе проверяется
// следующий по приоритету.
func cutPoint(window []rune, effectiveMax int) int {
	if idx := lastSentenceEnd(window); float64(idx) > float64(effectiveMax)*0.6 {
		return idx + 2
	}
	if idx := lastParagraphBreak(window); float64(idx) > float64(effectiveMax)*0.5 {
		return idx + 2
	}
	if idx := lastRune(window, '\n'); float64(idx) > float64(effectiveMax)*0.5 {
		return idx + 1
	}
	if idx := lastRune(window, ' '); float64(idx) > float64(effectiveMax)*0.7 {
		return idx + 1
	}
	return effectiveMax
}

// lastSentenceEnd возвращает индекс последнего знака конца предложения,
// за которым следует пробел, либо -1.
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i+1] != ' ' {
			continue
		}
		if c := window[i]; c == '.' || c == '!' || c == '?' {
			return i
		}
	}
	return -1
}

// lastParagraphBreak возвращает индекс последней пустой строки либо -1.
func lastParagraphBreak(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '\n' && window[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// lastRune возвращает индекс последнего вхождения r либо -1.
func lastRune(window []rune, r rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == r {
			return i
		}
	}
	return -1
}
