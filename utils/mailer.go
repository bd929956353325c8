package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/gomail.v2"
)

// ErrorKind classifies send failures for the dispatcher's retry policy.
type ErrorKind int

const (
	// ErrorTransient failures (timeouts, provider 4xx throttling, 5xx) are
	// retried on a later tick with a bounded attempt count.
	ErrorTransient ErrorKind = iota
	// ErrorPermanent failures (invalid address, hard bounce at send time)
	// fail the recipient immediately.
	ErrorPermanent
)

func (k ErrorKind) String() string {
	if k == ErrorPermanent {
		return "permanent"
	}
	return "transient"
}

// SendError wraps a provider failure with its retry classification.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// TransientError wraps err as a retryable send failure.
func TransientError(err error) error {
	return &SendError{Kind: ErrorTransient, Err: err}
}

// PermanentError wraps err as a non-retryable send failure.
func PermanentError(err error) error {
	return &SendError{Kind: ErrorPermanent, Err: err}
}

// IsPermanent reports whether a send failure should not be retried.
// Unclassified errors count as transient so the bounded retry loop decides.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Kind == ErrorPermanent
	}
	return false
}

// Email is one outbound message.
type Email struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
}

// Mailer is the external send collaborator. Send returns the provider
// message id; the idempotency key is stable per (recipient, step) so a
// retried send can be deduplicated downstream.
type Mailer interface {
	Send(ctx context.Context, email Email, idempotencyKey string) (string, error)
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	host   string
}

func NewSMTPMailer(host string, port int, username, password string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		host:   host,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email, idempotencyKey string) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", idempotencyKey, m.host)

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", email.From, email.FromName)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", email.Body)

	// gomail has no context support; run the dial in a goroutine and treat a
	// deadline hit as transient so a later tick retries.
	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return "", TransientError(ctx.Err())
	case err := <-done:
		if err != nil {
			return "", classifySMTPError(err)
		}
	}

	return messageID, nil
}

// smtpReplyRe matches an SMTP reply code at a token boundary; codes are
// always followed by a space or dash in server replies.
var smtpReplyRe = regexp.MustCompile(`(?:^|[^0-9.])([45])[0-9][0-9][ -]`)

// classifySMTPError maps an SMTP reply code onto the retry taxonomy:
// 5xx replies are hard failures, everything else (4xx throttling, dial and
// connection errors) is worth retrying.
func classifySMTPError(err error) error {
	text := err.Error()
	if m := smtpReplyRe.FindStringSubmatch(text); m != nil && m[1] == "5" {
		return PermanentError(err)
	}
	if strings.Contains(text, "invalid address") {
		return PermanentError(err)
	}
	return TransientError(err)
}
