package models

import "time"

// Client клиент студии. Ядро только читает клиентов.
type Client struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	Email      string    `json:"email,omitempty" db:"email"`
	TelegramID int64     `json:"telegram_id,omitempty" db:"telegram_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
