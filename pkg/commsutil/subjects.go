package commsutil

import "fmt"

// DefaultPrefix is the subject root used when BRIDGE_SUBJECT_PREFIX is unset.
const DefaultPrefix = "bridge"

// BuildInvokeSubject builds the subject a window's envelopes are published on.
func BuildInvokeSubject(prefix, label string) string {
	return fmt.Sprintf("%s.%s.invoke", prefix, label)
}

// BuildReplySubject builds the subject replies to a window are published on.
func BuildReplySubject(prefix, label string) string {
	return fmt.Sprintf("%s.%s.reply", prefix, label)
}

// BuildInvokeWildcard matches the invoke subjects of every window.
func BuildInvokeWildcard(prefix string) string {
	return fmt.Sprintf("%s.*.invoke", prefix)
}

// BuildEventSubject builds the mirror subject for an emitted event.
func BuildEventSubject(prefix, event string) string {
	return fmt.Sprintf("%s.events.%s", prefix, event)
}

// LabelFromInvokeSubject extracts the window label from an invoke subject.
func LabelFromInvokeSubject(prefix, subject string) (string, bool) {
	head := prefix + "."
	tail := ".invoke"
	if len(subject) <= len(head)+len(tail) || subject[:len(head)] != head || subject[len(subject)-len(tail):] != tail {
		return "", false
	}
	return subject[len(head) : len(subject)-len(tail)], true
}
