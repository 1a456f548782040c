// Package alert delivers operator alerts to the admin Telegram chat.
package alert

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	queueSize   = 32
	sendTimeout = 15 * time.Second
	maxAlertLen = 4000
)

// TextSender is the part of a chat adapter the notifier needs.
type TextSender interface {
	SendText(ctx context.Context, recipientID, text string) error
}

type message struct {
	subject string
	body    string
}

// TelegramNotifier queues alerts and sends them from a single worker, so
// Notify never blocks on the network. With no admin configured alerts are
// only logged.
type TelegramNotifier struct {
	sender  TextSender
	adminID string
	logger  *logrus.Entry

	queue     chan message
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewTelegramNotifier(sender TextSender, adminID int64, logger *logrus.Entry) *TelegramNotifier {
	n := &TelegramNotifier{
		sender: sender,
		logger: logger.WithField("component", "alert_notifier"),
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	if adminID != 0 {
		n.adminID = strconv.FormatInt(adminID, 10)
	}
	go n.run()
	return n
}

// Notify enqueues an alert. A full queue drops the alert after logging it.
func (n *TelegramNotifier) Notify(_ context.Context, subject, body string) {
	log := n.logger.WithField("subject", subject)
	if n.adminID == "" {
		log.Warn(body)
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		log.WithField("body", body).Warn("Notifier closed, alert only logged")
		return
	}
	select {
	case n.queue <- message{subject: subject, body: body}:
	default:
		log.WithField("body", body).Error("Alert queue full, alert dropped")
	}
}

func (n *TelegramNotifier) run() {
	defer close(n.done)
	for m := range n.queue {
		n.send(m)
	}
}

func (n *TelegramNotifier) send(m message) {
	text := "⚠️ " + m.subject + "\n\n" + m.body
	if r := []rune(text); len(r) > maxAlertLen {
		text = string(r[:maxAlertLen]) + "…"
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := n.sender.SendText(ctx, n.adminID, text); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"subject": m.subject,
			"body":    m.body,
		}).Error("Failed to send alert")
	}
}

// Close stops accepting alerts and waits until queued ones are sent.
func (n *TelegramNotifier) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
	})
	<-n.done
}
