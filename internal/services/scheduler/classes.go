package services

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// DefaultClassSchedule недельное расписание занятий студии.
var DefaultClassSchedule = map[time.Weekday]string{
	time.Monday:    "🌅 08:00 Хатха-йога (начинающие)\n🌟 19:00 Виньяса-флоу (средний)\n🌙 20:45 Йога-нидра",
	time.Tuesday:   "🌅 07:30 Утренняя практика\n🌟 18:30 Хатха-йога (средний)\n🌙 20:15 Инь-йога",
	time.Wednesday: "🌅 08:00 Аштанга-йога (продвинутый)\n🌟 19:00 Хатха-йога (начинающие)\n🌙 20:45 Медитация",
	time.Thursday:  "🌅 07:30 Виньяса-флоу (средний)\n🌟 18:30 Хатха-йога (все уровни)\n🌙 20:15 Восстановительная йога",
	time.Friday:    "🌅 08:00 Хатха-йога (начинающие)\n🌟 19:00 Виньяса-флоу (средний)\n🌙 20:45 Йога-нидра",
	time.Saturday:  "🌅 09:00 Утренняя практика\n🌟 11:00 Семейная йога\n🌙 18:00 Хатха-йога (все уровни)",
	time.Sunday:    "🌅 10:00 Медитативная практика\n🌟 12:00 Инь-йога\n🌙 18:00 Восстановительная йога",
}

// ClassSchedule накладывает overrides на DefaultClassSchedule. Ключи это названия
// дней недели на английском в любом регистре, пустое значение отменяет занятия в этот день.
func ClassSchedule(overrides map[string]string) (map[time.Weekday]string, error) {
	out := maps.Clone(DefaultClassSchedule)
	for name, text := range overrides {
		day, ok := parseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		out[day] = text
	}
	return out, nil
}

func parseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, true
		}
	}
	return 0, false
}
