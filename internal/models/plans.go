package models

import (
	"fmt"
	"maps"
	"slices"
)

// SubscriptionType тип абонемента.
type SubscriptionType string

// Типы абонементов студии.
const (
	TypeTrial     SubscriptionType = "TRIAL"
	TypeSingle    SubscriptionType = "SINGLE"
	TypePackage4  SubscriptionType = "PACKAGE_4"
	TypePackage8  SubscriptionType = "PACKAGE_8"
	TypePackage12 SubscriptionType = "PACKAGE_12"
	TypeUnlimited SubscriptionType = "UNLIMITED"
)

// UnlimitedClasses количество занятий, которым в хранилище обозначается безлимитный абонемент.
const UnlimitedClasses = 9999

// SubscriptionTypes перечисляет все известные типы в порядке возрастания пакета.
var SubscriptionTypes = []SubscriptionType{
	TypeTrial, TypeSingle, TypePackage4, TypePackage8, TypePackage12, TypeUnlimited,
}

// Valid сообщает, известен ли тип абонемента.
func (t SubscriptionType) Valid() bool {
	return slices.Contains(SubscriptionTypes, t)
}

// Plan описывает условия абонемента: число занятий, срок действия в днях и цену в рублях.
type Plan struct {
	TotalClasses int   `yaml:"total_classes"`
	DurationDays int   `yaml:"duration_days"`
	Price        int64 `yaml:"price"`
}

// Catalog неизменяемая таблица тарифов. Строится один раз при старте
// и используется и при покупке абонемента, и при расчёте цены.
type Catalog struct {
	plans map[SubscriptionType]Plan
}

// DefaultCatalog возвращает тарифы студии по умолчанию.
func DefaultCatalog() Catalog {
	return Catalog{plans: map[SubscriptionType]Plan{
		TypeTrial:     {TotalClasses: 1, DurationDays: 14, Price: 500},
		TypeSingle:    {TotalClasses: 1, DurationDays: 30, Price: 1100},
		TypePackage4:  {TotalClasses: 4, DurationDays: 30, Price: 3200},
		TypePackage8:  {TotalClasses: 8, DurationDays: 30, Price: 7000},
		TypePackage12: {TotalClasses: 12, DurationDays: 30, Price: 9000},
		TypeUnlimited: {TotalClasses: UnlimitedClasses, DurationDays: 30, Price: 10800},
	}}
}

// NewCatalog строит каталог из тарифов по умолчанию, заменяя те, что переданы в overrides.
func NewCatalog(overrides map[SubscriptionType]Plan) (Catalog, error) {
	const op = "models.NewCatalog"
	c := DefaultCatalog()
	for t, p := range overrides {
		if !t.Valid() {
			return Catalog{}, fmt.Errorf("%s: unknown subscription type %q", op, t)
		}
		if t == TypeUnlimited {
			p.TotalClasses = UnlimitedClasses
		}
		if p.TotalClasses <= 0 || p.DurationDays <= 0 || p.Price < 0 {
			return Catalog{}, fmt.Errorf("%s: invalid plan for %s", op, t)
		}
		c.plans[t] = p
	}
	return c, nil
}

// Plan возвращает тариф для типа абонемента.
func (c Catalog) Plan(t SubscriptionType) (Plan, bool) {
	p, ok := c.plans[t]
	return p, ok
}

// Price возвращает цену абонемента или ноль для неизвестного типа.
func (c Catalog) Price(t SubscriptionType) int64 {
	return c.plans[t].Price
}

// Plans возвращает копию таблицы тарифов.
func (c Catalog) Plans() map[SubscriptionType]Plan {
	return maps.Clone(c.plans)
}
