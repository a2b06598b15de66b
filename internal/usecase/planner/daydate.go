package planner

import (
	"strconv"
	"strings"
	"time"
)

// MapDays привязывает каждый выбранный день недели к конкретной дате в
// скользящем семидневном окне от сегодняшнего дня: дата с нулевым
// смещением может совпасть с сегодняшним днём недели, остальные уходят
// вперёд. Каждый день недели получает ровно одну дату, результат
// упорядочен хронологически. Индекс 0 — понедельник.
func MapDays(selected map[int]struct{}, now time.Time) []PlanDay {
	days := make([]PlanDay, 0, len(selected))
	seen := make(map[int]bool, len(selected))
	for offset := 0; offset < 7; offset++ {
		date := now.AddDate(0, 0, offset)
		weekday := mondayIndex(date.Weekday())
		if _, ok := selected[weekday]; !ok || seen[weekday] {
			continue
		}
		seen[weekday] = true
		days = append(days, PlanDay{
			Weekday: weekday,
			Date:    time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
		})
	}
	return days
}

// mondayIndex переводит time.Weekday в индекс с понедельником в нуле.
func mondayIndex(wd time.Weekday) int { return (int(wd) + 6) % 7 }

// sameDate сообщает, приходятся ли оба момента на одну календарную дату.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// clockInstant возвращает момент «эта дата, это время» в зоне даты.
// Запись времени ожидается нормализованной, как её отдаёт parseClock.
func clockInstant(date time.Time, clock string) time.Time {
	pieces := strings.SplitN(clock, ":", 2)
	hour, _ := strconv.Atoi(pieces[0])
	minute := 0
	if len(pieces) == 2 {
		minute, _ = strconv.Atoi(pieces[1])
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location())
}
