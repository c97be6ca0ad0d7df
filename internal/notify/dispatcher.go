// Package notify sends booking emails. Delivery is best effort: callers never
// see a failure, and nothing here can undo a booking.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"salonbook/backend/internal/domain"
)

type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Deliverer hands a message to the mail transport, either directly over SMTP
// or through the task queue.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

const deliverTimeout = 30 * time.Second

type Dispatcher struct {
	deliverer  Deliverer
	adminEmail string
	business   string
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher returns a dispatcher that skips every email when deliverer is
// nil, which is how a missing SMTP configuration is handled.
func NewDispatcher(deliverer Deliverer, adminEmail, business string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		deliverer:  deliverer,
		adminEmail: strings.TrimSpace(adminEmail),
		business:   business,
		logger:     logger.With("component", "notify"),
	}
}

func (d *Dispatcher) BookingReceived(ctx context.Context, b domain.Booking) {
	d.send(ctx, b, "booking received",
		"Booking received: "+b.ServiceName, "received_customer",
		"New booking: "+b.ServiceName+" on "+b.AppointmentDate.String(), "received_admin")
}

func (d *Dispatcher) BookingConfirmed(ctx context.Context, b domain.Booking) {
	d.send(ctx, b, "booking confirmed",
		"Booking confirmed: "+b.ServiceName, "confirmed_customer",
		"Booking paid: "+b.ServiceName+" on "+b.AppointmentDate.String(), "confirmed_admin")
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, b domain.Booking, kind, customerSubject, customerTmpl, adminSubject, adminTmpl string) {
	logger := d.logger.With("kind", kind, "booking_id", b.ID.String())
	if d.deliverer == nil {
		logger.Warn("email not configured, skipping notification")
		return
	}

	data := newBookingEmail(d.business, b)
	var msgs []Message
	if b.CustomerEmail != "" {
		html, err := render(customerTmpl, data)
		if err != nil {
			logger.Error("render customer email", "err", err)
		} else {
			msgs = append(msgs, Message{To: []string{b.CustomerEmail}, Subject: customerSubject, HTML: html})
		}
	}
	if d.adminEmail != "" {
		html, err := render(adminTmpl, data)
		if err != nil {
			logger.Error("render admin email", "err", err)
		} else {
			msgs = append(msgs, Message{To: []string{d.adminEmail}, Subject: adminSubject, HTML: html})
		}
	}
	if len(msgs) == 0 {
		return
	}

	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, msg := range msgs {
			sendCtx, cancel := context.WithTimeout(bg, deliverTimeout)
			err := d.deliverer.Deliver(sendCtx, msg)
			cancel()
			if err != nil {
				logger.Error("email delivery failed", "to", msg.To, "err", err)
				continue
			}
			logger.Info("email handed off", "to", msg.To)
		}
	}()
}
