package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/univ-soa/campus-auth-api/pkg/config"
	"github.com/univ-soa/campus-auth-api/pkg/jobs"
)

// JobTypeActivationEmail labels activation mail jobs on the queue.
const JobTypeActivationEmail = "activation_email"

// ActivationEmail is the mail queue job payload.
type ActivationEmail struct {
	To        string
	FirstName string
	Token     string
}

// EmailService delivers account activation messages over SMTP.
type EmailService struct {
	cfg    config.SMTPConfig
	dialer *gomail.Dialer
	logger *zap.Logger
}

// NewEmailService constructs an EmailService.
func NewEmailService(cfg config.SMTPConfig, logger *zap.Logger) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailService{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// SendActivationEmail sends the activation link to a freshly registered
// account. The send is bounded by the context deadline; gomail itself does
// not accept a context.
func (s *EmailService) SendActivationEmail(ctx context.Context, to, firstName, token string) error {
	link := fmt.Sprintf("%s?token=%s", s.cfg.ConfirmURL, url.QueryEscape(token))

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Activation de votre compte - Université SOA")
	m.SetBody("text/plain", fmt.Sprintf(
		"Bonjour %s,\n\n"+
			"Votre compte a été créé avec succès sur la plateforme de l'Université.\n"+
			"Pour activer votre compte, veuillez cliquer sur le lien suivant :\n%s\n\n"+
			"Ce lien est valable 24 heures.\n\n"+
			"Cordialement,\n"+
			"L'équipe de l'Université",
		firstName, link,
	))

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("activation email to %s: %w", to, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("activation email to %s: %w", to, err)
		}
		s.logger.Info("activation email sent", zap.String("to", to))
		return nil
	}
}

// QueueMailer delivers activation emails through the background job queue.
type QueueMailer struct {
	queue *jobs.Queue
}

// NewQueueMailer wraps a started queue.
func NewQueueMailer(queue *jobs.Queue) *QueueMailer {
	return &QueueMailer{queue: queue}
}

// SendActivationEmail enqueues the message and returns immediately.
func (m *QueueMailer) SendActivationEmail(_ context.Context, to, firstName, token string) error {
	return m.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeActivationEmail,
		Payload: ActivationEmail{To: to, FirstName: firstName, Token: token},
	})
}
