package notify

import (
	"context"
	"log/slog"

	"jobmate/admission-service/internal/admission"
)

// LogNotifier only logs. It is used when no Redis is configured.
type LogNotifier struct{}

var _ admission.Notifier = LogNotifier{}

func (LogNotifier) Notify(_ context.Context, n admission.Notification) error {
	subj, _ := Message(n.Status, n.JobTitle)
	slog.Info("notification",
		"recipient", n.Recipient, "applicationId", n.ApplicationID, "status", n.Status, "subject", subj)
	return nil
}
