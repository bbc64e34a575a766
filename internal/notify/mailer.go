package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/ids"
)

// Delivery statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Delivery is the log row for one send attempt.
type Delivery struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TemplateType string    `json:"template_type"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryLog persists delivery rows.
type DeliveryLog interface {
	LogDelivery(ctx context.Context, d Delivery) error
}

// Mailer sends messages and records every attempt.
type Mailer struct {
	sender Sender
	log    DeliveryLog
	logger *logrus.Entry
	now    func() time.Time
}

func NewMailer(sender Sender, log DeliveryLog, logger *logrus.Entry) *Mailer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Mailer{sender: sender, log: log, logger: logger, now: time.Now}
}

// Send delivers msg, records the outcome and returns the send error.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	err := m.sender.Send(ctx, msg)
	d := Delivery{
		ID:           ids.New(),
		UserID:       msg.UserID,
		TemplateType: msg.TemplateType,
		Status:       StatusSent,
		CreatedAt:    m.now().UTC(),
	}
	fields := logrus.Fields{"user_id": msg.UserID, "template_type": msg.TemplateType}
	if err != nil {
		d.Status = StatusFailed
		d.Error = err.Error()
		m.logger.WithFields(fields).WithError(err).Error("email delivery failed")
	} else {
		m.logger.WithFields(fields).Info("email sent")
	}
	if m.log != nil {
		if logErr := m.log.LogDelivery(ctx, d); logErr != nil {
			m.logger.WithFields(fields).WithError(logErr).Warn("record email delivery failed")
		}
	}
	return err
}

// MemoryLog keeps delivery rows in process.
type MemoryLog struct {
	mu   sync.Mutex
	rows []Delivery
}

func (l *MemoryLog) LogDelivery(_ context.Context, d Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, d)
	return nil
}

// Deliveries returns a copy of the logged rows.
func (l *MemoryLog) Deliveries() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Delivery(nil), l.rows...)
}
