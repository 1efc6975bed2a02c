package db

import "time"

// DefaultCounter is the counter name used by handlers that do not name one.
const DefaultCounter = "default"

// GuestbookEntry is one signed guestbook message.
type GuestbookEntry struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}
