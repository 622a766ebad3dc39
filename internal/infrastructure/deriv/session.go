// Package deriv maintains the Deriv API v3 websocket session: it authorizes,
// subscribes to ticks, reconnects on failure, and carries order requests.
package deriv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/marketstate"
	"github.com/betbot/spikebot/internal/metrics"
	"github.com/betbot/spikebot/internal/stream"
	"github.com/betbot/spikebot/pkg/sigchan"
)

var sessionLog = logrus.WithField("component", "deriv_session")

const (
	DefaultEndpoint       = "wss://ws.binaryws.com/websockets/v3"
	DefaultAppID          = "1089"
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultHandshake      = 10 * time.Second
	writeTimeout          = 10 * time.Second
)

type Config struct {
	Endpoint       string
	AppID          string
	Token          string // empty skips authorize; ticks still stream
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	RequestTimeout time.Duration
	ProxyURL       string
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.AppID == "" {
		c.AppID = DefaultAppID
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	Connected     bool         `json:"connected"`
	Authorized    bool         `json:"authorized"`
	Account       *AccountInfo `json:"account,omitempty"`
	Symbols       []string     `json:"symbols"`
	TicksReceived int64        `json:"ticks_received"`
	Reconnects    int64        `json:"reconnects"`
	LastTickAt    time.Time    `json:"last_tick_at,omitempty"`
}

// ContractHandler receives contract updates until the contract is sold.
type ContractHandler func(ContractUpdate)

// Session is the single owner of the websocket. Ticks are processed
// sequentially on the read loop: buffer first, then observers.
type Session struct {
	cfg      Config
	buffer   *marketstate.Buffer
	handlers *stream.HandlerList
	now      func() time.Time

	connMu sync.Mutex // guards conn and serialises writes
	conn   *websocket.Conn

	reqID     atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *envelope

	contractsMu sync.Mutex
	contracts   map[int64]ContractHandler

	connected     atomic.Bool
	authorized    atomic.Bool
	account       atomic.Pointer[AccountInfo]
	ticksReceived atomic.Int64
	reconnects    atomic.Int64
	lastTick      atomic.Int64 // unix nanos

	authSignal *sigchan.Chan
}

// NewSession fixes the observer set at construction.
func NewSession(cfg Config, buffer *marketstate.Buffer, observers ...stream.TickHandler) *Session {
	cfg.applyDefaults()
	if buffer == nil {
		buffer = marketstate.NewBuffer(marketstate.DefaultBufferSize)
	}
	return &Session{
		cfg:        cfg,
		buffer:     buffer,
		handlers:   stream.NewHandlerList(observers...),
		now:        time.Now,
		pending:    make(map[int64]chan *envelope),
		contracts:  make(map[int64]ContractHandler),
		authSignal: sigchan.New(1),
	}
}

func (s *Session) Buffer() *marketstate.Buffer { return s.buffer }

// Authorized fires after every successful (re)authorization.
func (s *Session) Authorized() <-chan struct{} { return s.authSignal.C() }

func (s *Session) Account() (AccountInfo, bool) {
	if a := s.account.Load(); a != nil {
		return *a, true
	}
	return AccountInfo{}, false
}

func (s *Session) Status() Status {
	st := Status{
		Connected:     s.connected.Load(),
		Authorized:    s.authorized.Load(),
		Symbols:       append([]string(nil), s.cfg.Symbols...),
		TicksReceived: s.ticksReceived.Load(),
		Reconnects:    s.reconnects.Load(),
	}
	if a, ok := s.Account(); ok {
		st.Account = &a
	}
	if n := s.lastTick.Load(); n > 0 {
		st.LastTickAt = time.Unix(0, n)
	}
	return st
}

// Run connects and keeps the session alive until ctx is done. Every failure
// is followed by a fixed ReconnectDelay before the next attempt.
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sessionLog.Warnf("session ended: %v; reconnecting in %s", err, s.cfg.ReconnectDelay)

		t := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		s.reconnects.Add(1)
		metrics.ObserveReconnect()
	}
}

func (s *Session) dialURL() (string, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint")
	}
	q := u.Query()
	if q.Get("app_id") == "" {
		q.Set("app_id", s.cfg.AppID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := s.dialURL()
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshake}
	if s.cfg.ProxyURL != "" {
		p, err := url.Parse(s.cfg.ProxyURL)
		if err != nil {
			return nil, &ConnectionError{Op: "dial", Err: errors.Wrap(err, "invalid proxy url")}
		}
		dialer.Proxy = http.ProxyURL(p)
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	return conn, nil
}

// Connect opens the transport and sends the authorization request. Without a
// token it subscribes to ticks straight away. Run calls it on every attempt.
func (s *Session) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)
	sessionLog.Infof("connected to %s", s.cfg.Endpoint)

	if s.cfg.Token != "" {
		return s.writeJSON(map[string]any{"authorize": s.cfg.Token})
	}
	sessionLog.Info("no api token configured; streaming ticks without authorization")
	return s.subscribeTicks()
}

// runOnce owns one connection from dial to failure.
func (s *Session) runOnce(ctx context.Context) error {
	connectErr := s.Connect(ctx)
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return connectErr
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close()
		s.connected.Store(false)
		s.authorized.Store(false)
		metrics.SetConnected(false)
		s.failPending(&ConnectionError{Op: "read", Err: errors.New("connection closed")})
	}()
	if connectErr != nil {
		return connectErr
	}

	// Unblock ReadMessage when ctx is cancelled.
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go s.pingLoop(connCtx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Op: "read", Err: err}
		}
		if err := s.handleMessage(ctx, data); err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				sessionLog.Warnf("%v", err)
				continue
			}
			return err
		}
	}
}

func (s *Session) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return &ConnectionError{Op: "write", Err: ErrNotConnected}
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// subscribeTicks sends one subscription for the whole configured set.
func (s *Session) subscribeTicks() error {
	if len(s.cfg.Symbols) == 0 {
		return nil
	}
	sessionLog.Infof("subscribing to ticks: %v", s.cfg.Symbols)
	return s.writeJSON(map[string]any{"ticks": s.cfg.Symbols, "subscribe": 1})
}

func (s *Session) pingLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.writeJSON(map[string]any{"ping": 1}); err != nil {
				sessionLog.Debugf("ping failed: %v", err)
			}
		}
	}
}

// handleMessage returns an error only when the connection must be dropped
// or the frame is malformed.
func (s *Session) handleMessage(ctx context.Context, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return malformed("decode frame: %v", err)
	}
	if env.Error != nil {
		env.Error.MsgType = env.MsgType
	}

	if env.ReqID != 0 && s.deliver(&env) {
		return nil
	}

	switch env.MsgType {
	case "authorize":
		if env.Error != nil {
			return &ConnectionError{Op: "authorize", Err: env.Error}
		}
		if env.Authorize == nil {
			return malformed("authorize without body")
		}
		acct := env.Authorize.account()
		s.account.Store(&acct)
		s.authorized.Store(true)
		metrics.SetConnected(true)
		kind := "REAL"
		if acct.IsDemo {
			kind = "DEMO"
		}
		sessionLog.Infof("authorized %s (%s) %s %.2f %s", acct.LoginID, kind, acct.Currency, acct.Balance, acct.Email)
		s.authSignal.Emit()
		return s.subscribeTicks()
	case "tick":
		if env.Error != nil {
			sessionLog.Warnf("tick subscription error: %v", env.Error)
			return nil
		}
		return s.dispatchTick(ctx, env.Tick)
	case "proposal_open_contract":
		if env.Error != nil {
			sessionLog.Warnf("contract update error: %v", env.Error)
			return nil
		}
		if env.OpenContract != nil {
			s.dispatchContract(env.OpenContract.update())
		}
		return nil
	case "ping":
		return nil
	default:
		if env.Error != nil {
			sessionLog.Warnf("api error: %v", env.Error)
		} else {
			sessionLog.Debugf("ignoring %s message", env.MsgType)
		}
		return nil
	}
}

func (s *Session) dispatchTick(ctx context.Context, tb *tickBody) error {
	if tb == nil || tb.Symbol == "" || tb.Quote == nil {
		return malformed("tick missing symbol or quote")
	}
	now := s.now()
	tick := domain.Tick{Symbol: tb.Symbol, Price: *tb.Quote, Epoch: tb.Epoch, ReceivedAt: now}
	s.ticksReceived.Add(1)
	s.lastTick.Store(now.UnixNano())
	metrics.ObserveTick(tick.Symbol)
	sessionLog.Debugf("tick %s = %v", tick.Symbol, tick.Price)

	s.buffer.Append(tick.Symbol, tick.Price)
	s.handlers.Emit(ctx, tick)
	return nil
}
