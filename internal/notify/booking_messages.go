package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BookingNotice carries everything needed to write to the guest's channel.
// The cancel/reschedule links are the only copies of the token values the
// guest ever receives.
type BookingNotice struct {
	ToEmail         string
	FullName        string
	ClinicName      string
	DoctorName      string
	StartAt         time.Time
	EndAt           time.Time
	CancelToken     string
	RescheduleToken string
	Credentials     *ProvisionedCredentials
}

// ProvisionedCredentials are included only on a guest's first booking.
type ProvisionedCredentials struct {
	Username string
	Password string
}

// Builder renders guest-facing booking emails.
type Builder struct {
	publicBaseURL string
}

// NewBuilder creates a message builder rooted at the public portal URL.
func NewBuilder(publicBaseURL string) *Builder {
	return &Builder{publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// CancelLink returns the self-service cancellation URL for a token.
func (b *Builder) CancelLink(token string) string {
	return fmt.Sprintf("%s/appointments/cancel?token=%s", b.publicBaseURL, url.QueryEscape(token))
}

// RescheduleLink returns the self-service reschedule URL for a token.
func (b *Builder) RescheduleLink(token string) string {
	return fmt.Sprintf("%s/appointments/reschedule?token=%s", b.publicBaseURL, url.QueryEscape(token))
}

// BookingConfirmed renders the confirmation email sent after a booking.
func (b *Builder) BookingConfirmed(n BookingNotice) EmailMessage {
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", n.FullName)
	fmt.Fprintf(&body, "Your appointment at %s with %s is booked for %s - %s.\n\n",
		n.ClinicName, n.DoctorName,
		n.StartAt.Format("Mon, 02 Jan 2006 15:04"), n.EndAt.Format("15:04"))
	fmt.Fprintf(&body, "Cancel: %s\n", b.CancelLink(n.CancelToken))
	fmt.Fprintf(&body, "Reschedule: %s\n", b.RescheduleLink(n.RescheduleToken))
	body.WriteString("\nThese links work without logging in. Each can be used once.\n")

	if n.Credentials != nil {
		fmt.Fprintf(&body, "\nA patient account was created for you.\nUsername: %s\nPassword: %s\nPlease change the password after your first login.\n",
			n.Credentials.Username, n.Credentials.Password)
	}

	return EmailMessage{
		To:      n.ToEmail,
		ToName:  n.FullName,
		Subject: fmt.Sprintf("Appointment booked at %s", n.ClinicName),
		Body:    body.String(),
	}
}

// BookingRescheduled renders the email carrying the fresh token pair after a
// reschedule; the previous links are no longer valid.
func (b *Builder) BookingRescheduled(n BookingNotice) EmailMessage {
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", n.FullName)
	fmt.Fprintf(&body, "Your appointment at %s with %s was moved to %s - %s.\n\n",
		n.ClinicName, n.DoctorName,
		n.StartAt.Format("Mon, 02 Jan 2006 15:04"), n.EndAt.Format("15:04"))
	body.WriteString("Your previous links no longer work. Use these instead:\n")
	fmt.Fprintf(&body, "Cancel: %s\n", b.CancelLink(n.CancelToken))
	fmt.Fprintf(&body, "Reschedule: %s\n", b.RescheduleLink(n.RescheduleToken))

	return EmailMessage{
		To:      n.ToEmail,
		ToName:  n.FullName,
		Subject: fmt.Sprintf("Appointment rescheduled at %s", n.ClinicName),
		Body:    body.String(),
	}
}
