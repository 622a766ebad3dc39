package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/betbot/spikebot/pkg/cache"
	"github.com/betbot/spikebot/pkg/httpclient"
	"github.com/betbot/spikebot/pkg/ratelimit"
)

// LogSink writes every message to the log. It is always installed.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, msg Message) error {
	notifyLog.WithField("kind", msg.Kind).Info(strings.ReplaceAll(msg.Text, "\n", " | "))
	return nil
}

const DefaultTelegramAPI = "https://api.telegram.org"

type TelegramOptions struct {
	Token   string
	ChatIDs []string
	BaseURL string // overridable for tests
	Limits  *ratelimit.Manager
	// DedupeTTL drops a message whose key was already delivered within the TTL.
	DedupeTTL time.Duration
}

// TelegramSink posts to the Bot API sendMessage method, once per chat.
type TelegramSink struct {
	token   string
	chatIDs []string
	http    *httpclient.Client
	limits  *ratelimit.Manager
	dedupe  *cache.Dedupe
}

func NewTelegramSink(opts TelegramOptions) (*TelegramSink, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if len(opts.ChatIDs) == 0 {
		return nil, errors.New("telegram: at least one chat id is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTelegramAPI
	}
	if opts.Limits == nil {
		opts.Limits = ratelimit.NewManager()
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 10 * time.Minute
	}
	return &TelegramSink{
		token:   opts.Token,
		chatIDs: opts.ChatIDs,
		http:    httpclient.NewClient(opts.BaseURL, httpclient.Options{Timeout: 10 * time.Second, RetryCount: 2}),
		limits:  opts.Limits,
		dedupe:  cache.NewDedupe(opts.DedupeTTL),
	}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers to every chat and returns the joined failures.
func (t *TelegramSink) Send(ctx context.Context, msg Message) error {
	var failed []string
	for _, chatID := range t.chatIDs {
		key := chatID + "|" + msg.Key
		if msg.Key != "" && !t.dedupe.First(key) {
			notifyLog.Debugf("telegram: duplicate %s for chat %s suppressed", msg.Key, chatID)
			continue
		}
		if err := t.sendOne(ctx, chatID, msg.Text); err != nil {
			t.dedupe.Forget(key)
			failed = append(failed, fmt.Sprintf("chat %s: %v", chatID, err))
		}
	}
	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "; "))
	}
	return nil
}

func (t *TelegramSink) sendOne(ctx context.Context, chatID, text string) error {
	if err := t.limits.Wait(ctx, ratelimit.TelegramGlobal); err != nil {
		return err
	}
	if err := t.limits.Wait(ctx, ratelimit.TelegramChat+":"+chatID); err != nil {
		return err
	}
	var out telegramResponse
	_, err := t.http.PostJSON(ctx, "/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}, &out)
	if err != nil {
		return err
	}
	if !out.OK {
		return errors.Errorf("telegram rejected message: %s", out.Description)
	}
	return nil
}

func (t *TelegramSink) Close() { t.dedupe.Close() }

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on <prefix>.<kind>.
type NATSSink struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
}

// ConnectNATS dials url and returns a sink that owns the connection.
func ConnectNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("spikebot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				notifyLog.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			notifyLog.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "nats connect %s", url)
	}
	s := NewNATSSink(nc, prefix)
	s.conn = nc
	return s, nil
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "spikebot.events"
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

func (n *NATSSink) Name() string { return "nats" }

type natsEnvelope struct {
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Key     string    `json:"key"`
	Text    string    `json:"text"`
	Payload any       `json:"payload"`
}

func (n *NATSSink) Send(_ context.Context, msg Message) error {
	env := natsEnvelope{Kind: string(msg.Kind), Key: msg.Key, Text: msg.Text, Payload: msg.Event}
	if msg.Event != nil {
		env.Time = msg.Event.EventTime()
	}
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return n.pub.Publish(n.prefix+"."+string(msg.Kind), b)
}

// Close drains the connection when the sink owns one.
func (n *NATSSink) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}
