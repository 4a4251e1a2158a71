// internal/gmail/types.go
package gmail

import "strings"

type MessageID string
type ThreadID string
type LabelID string

// MessageRef is the cheap handle returned by an unread listing.
type MessageRef struct {
	ID       MessageID
	ThreadID ThreadID
}

// Message is an immutable snapshot of one fetched message. A re-fetch
// produces a new snapshot; nothing mutates an existing one.
type Message struct {
	ID       MessageID
	ThreadID ThreadID
	Subject  string
	Sender   string // raw From header, display name included
	Snippet  string // short plain-text excerpt provided by the backend
}

// Placeholders used when the backend omits a header entirely.
const (
	NoSubject     = "No Subject"
	UnknownSender = "Unknown Sender"
)

// ReplyRequest carries everything needed to answer one message on its
// original thread.
type ReplyRequest struct {
	To       string
	Subject  string
	Body     string
	ThreadID ThreadID
}

// SendResult reports a confirmed send. LabelWarning is non-nil when the
// send itself succeeded but one or both of the follow-up label mutations
// failed; the email has been delivered and must not be resent.
type SendResult struct {
	ID           MessageID
	LabelWarning error
}

// ReplyAddress resolves the bare address to reply to from a raw From
// header. "Jane Doe <jane@x.com>" yields "jane@x.com"; a field without
// angle brackets is used verbatim.
func ReplyAddress(sender string) string {
	sender = strings.TrimSpace(sender)
	open := strings.LastIndex(sender, "<")
	if open == -1 {
		return sender
	}
	rest := sender[open+1:]
	if end := strings.Index(rest, ">"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ReplySubject prefixes "Re: " unless the subject already carries it
// case-insensitively, so replies never stack prefixes.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
