package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/bidhall/bidhall-api/internal/config"
)

// EmailService sends plain-text mail over SMTP
type EmailService struct {
	cfg config.EmailConfig
}

// NewEmailService creates a new EmailService
func NewEmailService(cfg config.EmailConfig) *EmailService {
	return &EmailService{
		cfg: cfg,
	}
}

// Enabled reports whether an SMTP server is configured
func (s *EmailService) Enabled() bool {
	return s.cfg.SMTPHost != ""
}

// AdminAddress returns the mailbox that receives administrator alerts
func (s *EmailService) AdminAddress() string {
	return s.cfg.AdminEmail
}

// SendEmail sends an email
func (s *EmailService) SendEmail(to, subject, body string) error {
	if !IsEmailValid(to) {
		return fmt.Errorf("invalid email address %q", to)
	}

	// SMTP server configuration
	smtpHost := s.cfg.SMTPHost
	smtpPort := s.cfg.SMTPPort
	smtpUser := s.cfg.SMTPUser
	smtpPassword := s.cfg.SMTPPassword
	from := s.cfg.FromEmail

	// Message
	message := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, body))

	// Authentication
	auth := smtp.PlainAuth("", smtpUser, smtpPassword, smtpHost)

	// SMTP connection
	addr := fmt.Sprintf("%s:%d", smtpHost, smtpPort)

	// Send email
	if err := smtp.SendMail(addr, auth, from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// IsEmailValid checks if an email address is valid
func IsEmailValid(email string) bool {
	// Basic validation - check for @ symbol and at least one dot after it
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}

	// Check if domain has at least one dot
	domainParts := strings.Split(parts[1], ".")
	return len(domainParts) >= 2 && domainParts[len(domainParts)-1] != ""
}
