// Package ids генерирует идентификаторы сущностей в формате TypeID ("prefix_suffix").
// Идентификаторы сортируются по времени создания (UUIDv7).
package ids

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix определяет тип сущности в идентификаторе.
type Prefix string

// Префиксы сущностей.
const (
	PrefixSubscription Prefix = "sub"
	PrefixBooking      Prefix = "bkg"
	PrefixNotification Prefix = "ntf"
	PrefixClient       Prefix = "cli"
)

// New генерирует новый идентификатор. Паникует на неверном префиксе, это ошибка программиста.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Validate проверяет, что s является идентификатором с нужным префиксом.
func Validate(s string, prefix Prefix) error {
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("ids: parse %q: %w", s, err)
	}
	if tid.Prefix() != string(prefix) {
		return fmt.Errorf("ids: expected prefix %q, got %q", prefix, tid.Prefix())
	}
	return nil
}
