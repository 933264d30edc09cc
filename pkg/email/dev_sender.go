package email

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender implements EmailSender for local development. Emails are written
// to disk as HTML files instead of going through a delivery service.
type DevSender struct {
	dir string
}

// NewDevSender creates a development email sender that saves emails under dir.
func NewDevSender(dir string) EmailSender {
	return &DevSender{dir: dir}
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-]+`)

// SendEmail saves the email to the configured directory.
func (d *DevSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrFailedToSendEmail, err)
	}

	identifier := params.Tag
	if identifier == "" {
		identifier = params.Subject
	}
	identifier = strings.Trim(unsafeFilenameChars.ReplaceAllString(identifier, "_"), "_")

	name := fmt.Sprintf("%s_%s.html", time.Now().Format("2006_01_02_150405"), identifier)
	body := fmt.Sprintf("<!-- to: %s | subject: %s -->\n%s", params.SendTo, params.Subject, params.BodyHTML)

	if err := os.WriteFile(filepath.Join(d.dir, name), []byte(body), 0o644); err != nil {
		return fmt.Errorf("%w: failed to write file: %v", ErrFailedToSendEmail, err)
	}
	return nil
}
