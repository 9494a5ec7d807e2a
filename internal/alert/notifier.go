// Package alert delivers operator notifications about trades and soft
// failures.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/config"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing and returns nil.
func (n *NoOpNotifier) Send(message string) error {
	return nil
}

// Close does nothing and returns nil.
func (n *NoOpNotifier) Close() error {
	return nil
}

// discordSession is the subset of *discordgo.Session the notifier uses.
type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// discordMessageLimit is the maximum content length Discord accepts.
const discordMessageLimit = 2000

// DiscordNotifier buffers messages and sends them as one direct message
// every bufferInterval.
type DiscordNotifier struct {
	session        discordSession
	userID         string
	logger         *zap.Logger
	bufferInterval time.Duration

	mu      sync.Mutex
	buffer  []string
	closed  bool
	started sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDiscordNotifier creates a DM notifier for cfg.UserID.
func NewDiscordNotifier(cfg config.DiscordConfig, logger *zap.Logger) (*DiscordNotifier, error) {
	if cfg.BotToken == "" || cfg.UserID == "" {
		return nil, errors.New("discord bot token and user ID must be configured")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	interval := time.Duration(cfg.BufferIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	return &DiscordNotifier{
		session:        session,
		userID:         cfg.UserID,
		logger:         logger,
		bufferInterval: interval,
		done:           make(chan struct{}),
	}, nil
}

// Send queues message for the next flush.
func (n *DiscordNotifier) Send(message string) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errors.New("notifier is closed")
	}
	n.buffer = append(n.buffer, message)
	n.mu.Unlock()

	n.started.Do(func() {
		n.wg.Add(1)
		go n.run()
	})
	return nil
}

// Close flushes what is buffered and closes the session.
func (n *DiscordNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
	n.flush()
	return n.session.Close()
}

func (n *DiscordNotifier) run() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.bufferInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.flush()
		case <-n.done:
			return
		}
	}
}

func (n *DiscordNotifier) flush() {
	n.mu.Lock()
	pending := n.buffer
	n.buffer = nil
	n.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	channel, err := n.session.UserChannelCreate(n.userID)
	if err != nil {
		n.logger.Error("Failed to open discord DM channel", zap.Error(err), zap.Int("dropped", len(pending)))
		return
	}
	for _, content := range chunk(report(pending), discordMessageLimit) {
		if _, err := n.session.ChannelMessageSend(channel.ID, content); err != nil {
			n.logger.Error("Failed to send discord message", zap.Error(err))
			return
		}
	}
}

func report(messages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- **Trade Report (%s)** ---\n", time.Now().UTC().Format(time.RFC3339))
	for _, m := range messages {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteByte('\n')
	}
	return b.String()
}

// chunk splits s on line boundaries into pieces no longer than limit.
// A single line over the limit is cut.
func chunk(s string, limit int) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(s, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
