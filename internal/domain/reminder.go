package domain

import "time"

type Reminder struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	UserID        string     `json:"user_id"`
	ItemTitle     string     `json:"item_title"`
	DueAt         time.Time  `json:"due_at"` // expected return the reminder refers to
	SendAt        time.Time  `json:"send_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
