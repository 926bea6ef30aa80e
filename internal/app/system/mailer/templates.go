// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// VerificationEmailData holds data for the confirm-your-address email.
type VerificationEmailData struct {
	SiteName  string
	Username  string
	Link      string
	Key       string
	ExpiresIn string // e.g., "3 days"
}

// PasswordResetEmailData holds data for the password reset email.
type PasswordResetEmailData struct {
	SiteName  string
	Username  string
	Link      string
	ExpiresIn string
}

var (
	verificationTmpl  = template.Must(template.New("verification").Parse(verificationHTMLTemplate))
	passwordResetTmpl = template.Must(template.New("password_reset").Parse(passwordResetHTMLTemplate))
)

// BuildVerificationEmail creates a verification email with both HTML and text bodies.
func BuildVerificationEmail(data VerificationEmailData) Email {
	return Email{
		To:       "", // Set by caller
		Subject:  fmt.Sprintf("[%s] Please confirm your e-mail address", data.SiteName),
		TextBody: buildVerificationText(data),
		HTMLBody: render(verificationTmpl, data),
	}
}

// BuildPasswordResetEmail creates a password reset email.
func BuildPasswordResetEmail(data PasswordResetEmailData) Email {
	return Email{
		Subject:  fmt.Sprintf("[%s] Password reset", data.SiteName),
		TextBody: buildPasswordResetText(data),
		HTMLBody: render(passwordResetTmpl, data),
	}
}

func buildVerificationText(data VerificationEmailData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Hello %s,\n\n", data.Username)
	fmt.Fprintf(&buf, "To confirm this e-mail address for your %s account, open:\n", data.SiteName)
	buf.WriteString(data.Link + "\n\n")
	fmt.Fprintf(&buf, "Or submit this key: %s\n\n", data.Key)
	fmt.Fprintf(&buf, "This link expires in %s.\n\n", data.ExpiresIn)
	buf.WriteString("If you did not sign up, you can safely ignore this email.\n")
	return buf.String()
}

func buildPasswordResetText(data PasswordResetEmailData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Hello %s,\n\n", data.Username)
	fmt.Fprintf(&buf, "Someone asked to reset the password for your %s account. To choose a new password, open:\n", data.SiteName)
	buf.WriteString(data.Link + "\n\n")
	fmt.Fprintf(&buf, "This link expires in %s and can be used once.\n\n", data.ExpiresIn)
	buf.WriteString("If you did not request a reset, you can safely ignore this email.\n")
	return buf.String()
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	_ = t.Execute(&buf, data)
	return buf.String()
}

const verificationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Confirm your e-mail address</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1);">
          <!-- Header -->
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #4f46e5;">{{.SiteName}}</h1>
            </td>
          </tr>

          <!-- Content -->
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">
                Hello {{.Username}}, please confirm this e-mail address for your account.
              </p>

              <!-- Button -->
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.Link}}" style="display: inline-block; padding: 14px 32px; background-color: #4f46e5; color: #ffffff; text-decoration: none; font-size: 16px; font-weight: 500; border-radius: 6px;">
                      Confirm e-mail
                    </a>
                  </td>
                </tr>
              </table>

              <p style="margin: 24px 0 0; font-size: 13px; color: #9ca3af; text-align: center;">
                This link expires in {{.ExpiresIn}}.
              </p>
            </td>
          </tr>

          <!-- Footer -->
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">
                If you did not sign up, you can safely ignore this email.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`


const passwordResetHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Password reset</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1);">
          <!-- Header -->
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #4f46e5;">{{.SiteName}}</h1>
            </td>
          </tr>

          <!-- Content -->
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">
                Hello {{.Username}}, someone asked to reset the password for your account.
              </p>

              <!-- Button -->
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.Link}}" style="display: inline-block; padding: 14px 32px; background-color: #4f46e5; color: #ffffff; text-decoration: none; font-size: 16px; font-weight: 500; border-radius: 6px;">
                      Choose a new password
                    </a>
                  </td>
                </tr>
              </table>

              <p style="margin: 24px 0 0; font-size: 13px; color: #9ca3af; text-align: center;">
                This link expires in {{.ExpiresIn}} and can be used once.
              </p>
            </td>
          </tr>

          <!-- Footer -->
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">
                If you did not request a reset, you can safely ignore this email.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`

// FormatExpiry renders d for email copy, e.g. "10 minutes", "1 hour", "3 days".
func FormatExpiry(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 60 {
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := minutes / 60
	if hours < 48 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d days", hours/24)
}
