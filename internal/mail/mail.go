// Package mail delivers account e-mail. Delivery is fire-and-forget: a failed
// send is logged and never reaches the request that triggered it.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mzrzvi/authcore/internal/model"
)

// Message is one outgoing e-mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTP sends through a plain SMTP relay.
type SMTP struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP mailer.
func NewSMTP(host string, port int, from, username, password string) *SMTP {
	return &SMTP{Host: host, Port: port, From: from, Username: username, Password: password, send: smtp.SendMail}
}

// Send formats msg as RFC 5322 text and hands it to the relay.
func (s *SMTP) Send(_ context.Context, msg Message) error {
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.From, msg.To, msg.Subject, time.Now().UTC().Format(time.RFC1123Z), msg.Body)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return s.send(fmt.Sprintf("%s:%d", s.Host, s.Port), auth, s.From, []string{msg.To}, []byte(body))
}

// Log only records messages. Used when mail is disabled.
type Log struct{ log *zap.Logger }

// NewLog creates a logging mailer.
func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log.Named("mail")}
}

func (l *Log) Send(_ context.Context, msg Message) error {
	l.log.Info("mail suppressed", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// Dispatcher sends messages on a background worker.
type Dispatcher struct {
	m       Mailer
	log     *zap.Logger
	timeout time.Duration
	queue   chan Message
	wg      sync.WaitGroup

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
}

// NewDispatcher starts a worker draining a queue of the given size.
func NewDispatcher(m Mailer, size int, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = 64
	}
	d := &Dispatcher{m: m, log: log.Named("mail"), timeout: 30 * time.Second, queue: make(chan Message, size)}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.m.Send(ctx, msg); err != nil {
			d.log.Warn("send failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
		cancel()
	}
}

// Enqueue schedules msg without blocking. A full queue or a closed
// dispatcher drops the message.
func (d *Dispatcher) Enqueue(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher closed, message dropped", zap.String("subject", msg.Subject))
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.log.Warn("queue full, message dropped", zap.String("subject", msg.Subject))
	}
}

// SendConfirmation queues the welcome/confirmation message for p.
func (d *Dispatcher) SendConfirmation(p *model.Principal) {
	d.Enqueue(ConfirmationMessage(p))
}

// Close stops accepting messages and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// ConfirmationMessage renders the account confirmation mail.
func ConfirmationMessage(p *model.Principal) Message {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		name = p.Email
	}
	return Message{
		To:      p.Email,
		Subject: "Confirm your account",
		Body: fmt.Sprintf("Hi %s,\n\nyour account has been created. Your account id is %s.\n",
			name, p.ID),
	}
}
