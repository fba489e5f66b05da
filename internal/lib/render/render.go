// Package render подставляет данные в шаблоны уведомлений и форматирует их для Telegram.
package render

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// ErrMissingKey возвращается, если в данных нет ключа, который нужен шаблону.
var ErrMissingKey = errors.New("render: missing template key")

// ErrUnknownTemplate возвращается для типа уведомления без шаблона.
var ErrUnknownTemplate = errors.New("render: no template for notification type")

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Template шаблон заголовка и текста уведомления с приоритетом по умолчанию.
type Template struct {
	Title    string
	Message  string
	Priority models.Priority
}

// Keys возвращает отсортированный список ключей, которые использует шаблон.
func (t Template) Keys() []string {
	set := make(map[string]struct{})
	for _, s := range []string{t.Title, t.Message} {
		for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
			set[m[1]] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Render подставляет data в шаблон. Отсутствующий ключ является ошибкой.
func (t Template) Render(data map[string]string) (title, message string, err error) {
	if title, err = substitute(t.Title, data); err != nil {
		return "", "", err
	}
	if message, err = substitute(t.Message, data); err != nil {
		return "", "", err
	}
	return title, message, nil
}

func substitute(s string, data map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := data[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}
	return out, nil
}

var templates = map[models.NotificationType]Template{
	models.NotificationSubscriptionExpiring: {
		Title:    "⏰ Ваш абонемент скоро закончится",
		Message:  "Здравствуйте, {client_name}!\n\nАбонемент «{subscription_type}» действует до {end_date}.\nОсталось занятий: {remaining_classes}.\n\nПродлите его заранее, чтобы не пропускать практику.",
		Priority: models.PriorityHigh,
	},
	models.NotificationSubscriptionExpired: {
		Title:    "❌ Абонемент закончился",
		Message:  "Здравствуйте, {client_name}!\n\nСрок абонемента «{subscription_type}» истёк {end_date}.\n\nЧтобы продолжить занятия, оформите новый абонемент.",
		Priority: models.PriorityHigh,
	},
	models.NotificationClassesRunningOut: {
		Title:    "⚠️ Заканчиваются занятия",
		Message:  "Здравствуйте, {client_name}!\n\nНа абонементе осталось занятий: {remaining_classes}.",
		Priority: models.PriorityNormal,
	},
	models.NotificationPaymentReminder: {
		Title:    "💳 Напоминание об оплате",
		Message:  "Здравствуйте, {client_name}!\n\nАбонемент «{subscription_type}» ждёт оплаты.\nСумма: {price} ₽.",
		Priority: models.PriorityHigh,
	},
	models.NotificationClassReminder: {
		Title:    "⏰ Скоро занятие",
		Message:  "Здравствуйте, {client_name}!\n\nНапоминаем о занятии «{class_type}» {class_date}.\n\nЖдём вас в зале, не забудьте коврик.",
		Priority: models.PriorityHigh,
	},
	models.NotificationWelcomeMessage: {
		Title:    "🌟 Добро пожаловать в студию",
		Message:  "Здравствуйте, {client_name}!\n\nМы рады видеть вас в нашей йога-студии.",
		Priority: models.PriorityNormal,
	},
	models.NotificationRegistrationComplete: {
		Title:    "✅ Регистрация завершена",
		Message:  "{client_name}, регистрация завершена.\n\nТеперь можно покупать абонементы, записываться на занятия и получать напоминания.",
		Priority: models.PriorityNormal,
	},
	models.NotificationSubscriptionPurchased: {
		Title:    "🎫 Абонемент оформлен",
		Message:  "Поздравляем, {client_name}!\n\nАбонемент «{subscription_type}» оформлен.\nЗанятий: {total_classes}\nДействует до: {end_date}\nСтоимость: {price} ₽",
		Priority: models.PriorityNormal,
	},
	models.NotificationGeneralInfo: {
		Title:    "ℹ️ Информация",
		Message:  "Здравствуйте, {client_name}!\n\n{message}",
		Priority: models.PriorityLow,
	},
	models.NotificationDailySchedule: {
		Title:    "📅 Расписание на {schedule_date}",
		Message:  "Здравствуйте, {client_name}!\n\nРасписание занятий на завтра:\n\n{schedule}\n\nЖдём вас на практике! 🧘",
		Priority: models.PriorityNormal,
	},
}

// For возвращает шаблон для типа уведомления.
func For(t models.NotificationType) (Template, error) {
	tpl, ok := templates[t]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, t)
	}
	return tpl, nil
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown экранирует управляющие символы Markdown Telegram.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Telegram собирает текст сообщения: жирный заголовок, пустая строка и текст.
func Telegram(title, text string) string {
	if title == "" {
		return EscapeMarkdown(text)
	}
	return "*" + EscapeMarkdown(title) + "*\n\n" + EscapeMarkdown(text)
}
