package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/pkg/log"
)

const (
	MailSubject = "Translated Subtitles Document"
	MailBody    = "Attached is the translated subtitles document from today's session."

	defaultSendConcurrency = 4
)

type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// DeliveryResult is the outcome for one recipient.
type DeliveryResult struct {
	Recipient string         `json:"recipient"`
	Status    DeliveryStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier delivers an exported document. It attempts every recipient
// independently and returns one result per recipient, in input order.
type Notifier interface {
	Notify(ctx context.Context, art Artifact, recipients []string) []DeliveryResult
}

// MailSettings configures the SMTP relay.
type MailSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Dialer sends fully built messages. *mail.Client satisfies it.
type Dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// MailNotifier sends the document as an attachment, one message per
// recipient, so a rejected address does not affect the others.
type MailNotifier struct {
	settings    MailSettings
	newDialer   func() (Dialer, error)
	concurrency int
	metrics     *observe.Metrics
	now         func() time.Time
}

var _ Notifier = (*MailNotifier)(nil)

type MailOption func(*MailNotifier)

// WithDialer replaces the SMTP client factory.
func WithDialer(fn func() (Dialer, error)) MailOption {
	return func(n *MailNotifier) { n.newDialer = fn }
}

func WithConcurrency(n int) MailOption {
	return func(m *MailNotifier) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithMailMetrics(m *observe.Metrics) MailOption {
	return func(n *MailNotifier) { n.metrics = m }
}

func NewMailNotifier(settings MailSettings, opts ...MailOption) *MailNotifier {
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	n := &MailNotifier{
		settings:    settings,
		concurrency: defaultSendConcurrency,
		now:         time.Now,
	}
	n.newDialer = n.smtpClient
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *MailNotifier) smtpClient() (Dialer, error) {
	opts := []mail.Option{
		mail.WithPort(n.settings.Port),
		mail.WithTimeout(n.settings.Timeout),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if n.settings.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.settings.Username),
			mail.WithPassword(n.settings.Password),
		)
	}
	client, err := mail.NewClient(n.settings.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

func (n *MailNotifier) sender() string {
	if n.settings.From != "" {
		return n.settings.From
	}
	return n.settings.Username
}

func (n *MailNotifier) Notify(ctx context.Context, art Artifact, recipients []string) []DeliveryResult {
	results := make([]DeliveryResult, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, rcpt := range recipients {
		g.Go(func() error {
			addr := strings.TrimSpace(rcpt)
			defer func() {
				if r := recover(); r != nil {
					log.Error("Delivery to %s panicked: %v", addr, r)
					results[i] = DeliveryResult{
						Recipient: addr,
						Status:    StatusFailed,
						Reason:    fmt.Sprintf("panic: %v", r),
						At:        n.now(),
					}
				}
			}()
			results[i] = n.deliver(gctx, art, addr)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, r := range results {
		if r.Status == StatusSent {
			sent++
		}
	}
	log.Info("Delivered %s to %d of %d recipients", art.Name, sent, len(recipients))
	return results
}

func (n *MailNotifier) deliver(ctx context.Context, art Artifact, rcpt string) DeliveryResult {
	result := DeliveryResult{Recipient: rcpt, Status: StatusFailed}
	defer func() {
		result.At = n.now()
		n.metrics.RecordDelivery(context.WithoutCancel(ctx), string(result.Status))
	}()

	msg, err := n.buildMessage(art, rcpt)
	if err != nil {
		result.Reason = err.Error()
		log.Warn("Failed to build mail for %s: %v", rcpt, err)
		return result
	}
	dialer, err := n.newDialer()
	if err != nil {
		result.Reason = err.Error()
		return result
	}
	if err := dialer.DialAndSendWithContext(ctx, msg); err != nil {
		result.Reason = err.Error()
		log.Warn("Failed to send document to %s: %v", rcpt, err)
		return result
	}
	result.Status = StatusSent
	return result
}

func (n *MailNotifier) buildMessage(art Artifact, rcpt string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.sender()); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.sender(), err)
	}
	if err := msg.To(rcpt); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", rcpt, err)
	}
	msg.Subject(MailSubject)
	msg.SetBodyString(mail.TypeTextPlain, MailBody)
	if err := msg.AttachReader(art.Name, bytes.NewReader(art.Data),
		mail.WithFileContentType(mail.ContentType(art.ContentType))); err != nil {
		return nil, fmt.Errorf("attach %s: %w", art.Name, err)
	}
	return msg, nil
}
