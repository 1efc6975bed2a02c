// Package events fans invalidation signals out to connected clients and publishes them to
// external observers.
package events

// InvalidatedEvent is emitted after a REQUERY has been broadcast for a query key.
type InvalidatedEvent struct {
	QueryKey   string `json:"queryKey"`
	Recipients int    `json:"recipients"`
	Failed     int    `json:"failed"`
	Timestamp  string `json:"timestamp"`
}
