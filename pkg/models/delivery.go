package models

import "time"

// AttachmentRequest asks the delivery stage to attach an image to a message.
// It is declarative: the renderer never touches image bytes itself. A non-empty
// RemoteURL means the source already published a rendered image; otherwise the
// map collaborator is asked to draw one from the event.
type AttachmentRequest struct {
	RemoteURL string
	Event     Event
}

type RenderedMessage struct {
	Text       string
	Attachment *AttachmentRequest
}

// DeliveryTask is one rendered message destined for one group. Tasks are
// consumed by exactly one per-group send worker, which preserves the order
// deliveries were enqueued in for that group.
type DeliveryTask struct {
	ID        string
	GroupID   string
	Message   RenderedMessage
	Attempts  int
	CreatedAt time.Time
}
