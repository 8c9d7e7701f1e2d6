package reservation

import "time"

// NoticeKind classifies an entry in a reservation's notice log.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notice is a timestamped, human-readable entry attached to a reservation —
// the running commentary an operator reads to understand why a reservation
// ended up in its current state. Notices are append-only.
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

func newNotice(kind NoticeKind, message string, at time.Time) Notice {
	return Notice{Kind: kind, Message: message, At: at}
}
