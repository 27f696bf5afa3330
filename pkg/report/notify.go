package report

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/opnlabs/dotmatrix/pkg/models"
)

// Notifier delivers the outcome of a run.
type Notifier interface {
	Notify(ctx context.Context, rep *Report) error
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails the run summary to the recipients of a pipeline
// file's email setting.
type EmailNotifier struct {
	Addr    string
	From    string
	Setting models.EmailSetting
	Send    SendFunc
}

func NewEmailNotifier(addr, from string, setting models.EmailSetting) *EmailNotifier {
	return &EmailNotifier{Addr: addr, From: from, Setting: setting, Send: smtp.SendMail}
}

// ShouldNotify applies the email setting to a finished run. There is no
// previous build to compare against, so "change" behaves like "always".
func (e *EmailNotifier) ShouldNotify(rep *Report) bool {
	if !e.Setting.Enabled || len(e.Setting.Recipients) == 0 || e.Addr == "" {
		return false
	}
	if rep.Passed() {
		// Travis defaults on_success to change.
		return e.Setting.OnSuccess != models.NotifyNever
	}
	return e.Setting.OnFailure != models.NotifyNever
}

func (e *EmailNotifier) Notify(ctx context.Context, rep *Report) error {
	if !e.ShouldNotify(rep) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	status := "passed"
	if !rep.Passed() {
		status = "failed"
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\n", e.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(e.Setting.Recipients, ", "))
	fmt.Fprintf(&body, "Subject: dotmatrix run %s %s\r\n", rep.RunID, status)
	fmt.Fprintf(&body, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
	if err := WriteSummary(&body, rep); err != nil {
		return err
	}

	if err := e.Send(e.Addr, nil, e.From, e.Setting.Recipients, body.Bytes()); err != nil {
		return fmt.Errorf("could not send email notification: %w", err)
	}
	return nil
}
