// Package notify delivers application status changes to candidates.
//
// The service itself does not send e-mail: it publishes one event per
// committed transition, already carrying the rendered subject and body, and
// a mailer subscribed to the channel takes care of delivery.
package notify

import (
	"fmt"

	"jobmate/admission-service/internal/admission"
)

const subject = "Update on your job application"

// Message renders the e-mail subject and body for a status change.
func Message(status admission.Status, jobTitle string) (string, string) {
	switch status {
	case admission.StatusAccepted:
		return subject, fmt.Sprintf("Congratulations! You have been accepted for the job: %s", jobTitle)
	case admission.StatusRejected:
		return subject, fmt.Sprintf("We regret to inform you that your application for the job '%s' has been rejected.", jobTitle)
	default:
		return subject, fmt.Sprintf("Your application status for '%s' has been updated to: %s", jobTitle, status)
	}
}
