package email

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// Notifier is the external notification collaborator the expiry
// scheduler and traffic monitor send admin-facing alerts through. The core
// only depends on this interface; SMTPEmailService is one concrete sender.
type Notifier interface {
	NotifyOverLimit(to, subscriptionToken string, usedMB, limitMB int64) error
	NotifyExpiringSoon(to, subscriptionToken string, hoursRemaining int) error
	NotifyExpired(to, subscriptionToken string) error
	NotifyPurchaseCompleted(to string, subscriptionID uint, expiresAt string) error
}

type SMTPEmailService struct {
	config SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPEmailService(config SMTPConfig) *SMTPEmailService {
	dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)

	return &SMTPEmailService{
		config: config,
		dialer: dialer,
	}
}

func (s *SMTPEmailService) NotifyOverLimit(to, subscriptionToken string, usedMB, limitMB int64) error {
	subject := "Subscription traffic limit reached"
	body := fmt.Sprintf(
		"Subscription %s has used %d MB of its %d MB limit.",
		subscriptionToken, usedMB, limitMB,
	)
	return s.send(to, subject, body)
}

func (s *SMTPEmailService) NotifyExpiringSoon(to, subscriptionToken string, hoursRemaining int) error {
	subject := "Subscription expiring soon"
	body := fmt.Sprintf("Subscription %s expires in %d hour(s).", subscriptionToken, hoursRemaining)
	return s.send(to, subject, body)
}

func (s *SMTPEmailService) NotifyExpired(to, subscriptionToken string) error {
	subject := "Subscription expired"
	body := fmt.Sprintf("Subscription %s has expired and its keys have been revoked.", subscriptionToken)
	return s.send(to, subject, body)
}

func (s *SMTPEmailService) NotifyPurchaseCompleted(to string, subscriptionID uint, expiresAt string) error {
	subject := "Subscription activated"
	body := fmt.Sprintf("Subscription #%d is active until %s.", subscriptionID, expiresAt)
	return s.send(to, subject, body)
}

func (s *SMTPEmailService) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.config.FromAddress, s.config.FromName))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}

	return nil
}
