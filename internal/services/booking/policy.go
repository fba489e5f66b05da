package services

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// SelectionPolicy выбирает абонемент для записи среди активных кандидатов.
// Список кандидатов не пустой.
type SelectionPolicy func(candidates []*models.Subscription) *models.Subscription

// MostRecent выбирает абонемент, оформленный последним.
func MostRecent(candidates []*models.Subscription) *models.Subscription {
	return slices.MaxFunc(candidates, func(a, b *models.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// EarliestExpiring выбирает абонемент, который закончится раньше остальных.
func EarliestExpiring(candidates []*models.Subscription) *models.Subscription {
	return slices.MinFunc(candidates, func(a, b *models.Subscription) int {
		if c := a.EndDate.Compare(b.EndDate); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// Названия политик в конфигурации.
const (
	PolicyMostRecent       = "most_recent"
	PolicyEarliestExpiring = "earliest_expiring"
)

// PolicyByName возвращает политику по названию из конфигурации. Пустое название означает MostRecent.
func PolicyByName(name string) (SelectionPolicy, error) {
	switch name {
	case "", PolicyMostRecent:
		return MostRecent, nil
	case PolicyEarliestExpiring:
		return EarliestExpiring, nil
	default:
		return nil, fmt.Errorf("unknown subscription selection policy %q", name)
	}
}
