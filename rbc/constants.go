package rbc

import "time"

const (
	ContentTypeJSON = "application/json"

	// Sink kinds, used as the metrics label.
	SinkHTTP = "http"
	SinkHub  = "hub"

	DefaultPublishInterval = 5 * time.Second
	DefaultPostTimeout     = 5 * time.Second
)
