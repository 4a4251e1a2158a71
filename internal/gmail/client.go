package gmail

import "context"

// Client is the narrow Gmail surface required by triagemail.
type Client interface {
	// ListUnread returns at most limit unread inbox messages.
	ListUnread(ctx context.Context, limit int) ([]MessageRef, error)
	// GetMessage fetches a full snapshot of one message.
	GetMessage(ctx context.Context, id MessageID) (Message, error)
	// MarkRead removes the unread marker. Already-read messages are a no-op.
	MarkRead(ctx context.Context, id MessageID) error
	// EnsureLabel resolves a label id by case-insensitive name, creating
	// the label if absent. Concurrent callers get the same id back.
	EnsureLabel(ctx context.Context, name string) (LabelID, error)
	// SendReply delivers a reply on the request's thread, then moves the
	// thread off unread and onto the replied label.
	SendReply(ctx context.Context, req ReplyRequest) (SendResult, error)
}
