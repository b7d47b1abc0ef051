package scanner

import "time"

// Scanner is one activation of the physical device: the serial number bound
// to the user operating it, from activation until completion.
type Scanner struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	SerialNumber int64      `json:"serial_number"`
	IsUsing      bool       `json:"is_using"`
	ActivatedAt  time.Time  `json:"activated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
