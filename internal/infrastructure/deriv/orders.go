package deriv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderRequest describes a rise/fall contract purchase.
type OrderRequest struct {
	Symbol       string
	ContractType string // CALL or PUT
	Amount       decimal.Decimal
	Currency     string
	Duration     int
	DurationUnit string
	MaxPrice     decimal.Decimal // zero means Amount
	Ref          string          // echoed back in passthrough
}

// Purchase is a bought contract.
type Purchase struct {
	ProposalID    string
	ContractID    int64
	TransactionID int64
	BuyPrice      decimal.Decimal
	Payout        decimal.Decimal
	Longcode      string
}

// request sends payload with a fresh req_id and waits for the matching response.
// It must not be called from an observer: responses are read on the same loop.
func (s *Session) request(ctx context.Context, payload map[string]any) (*envelope, error) {
	id := s.reqID.Add(1)
	payload["req_id"] = id
	ch := make(chan *envelope, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writeJSON(payload); err != nil {
		return nil, err
	}

	t := time.NewTimer(s.cfg.RequestTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, errors.Errorf("deriv: request %d timed out after %s", id, s.cfg.RequestTimeout)
	case env := <-ch:
		if env.Error != nil {
			return env, env.Error
		}
		if env.MsgType == "" {
			// failPending delivers a synthetic envelope without a type.
			return nil, &ConnectionError{Op: "request", Err: ErrNotConnected}
		}
		return env, nil
	}
}

// deliver hands env to a waiting request and retires the req_id, so later
// subscription updates that echo it take the normal path. Reports whether anyone was waiting.
func (s *Session) deliver(env *envelope) bool {
	s.pendingMu.Lock()
	ch, ok := s.pending[env.ReqID]
	delete(s.pending, env.ReqID)
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- &envelope{ReqID: id}:
		default:
		}
	}
	if len(s.pending) > 0 {
		sessionLog.Warnf("failed %d in-flight requests: %v", len(s.pending), err)
	}
}

// PlaceOrder requests a proposal and buys it.
func (s *Session) PlaceOrder(ctx context.Context, req OrderRequest) (*Purchase, error) {
	if !s.authorized.Load() {
		return nil, &ConnectionError{Op: "order", Err: errors.New("session not authorized")}
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.DurationUnit == "" {
		req.DurationUnit = "s"
	}
	amount, _ := req.Amount.Float64()
	proposal := map[string]any{
		"proposal":      1,
		"amount":        amount,
		"basis":         "stake",
		"contract_type": req.ContractType,
		"currency":      req.Currency,
		"duration":      req.Duration,
		"duration_unit": req.DurationUnit,
		"symbol":        req.Symbol,
	}
	if req.Ref != "" {
		proposal["passthrough"] = map[string]any{"ref": req.Ref}
	}
	env, err := s.request(ctx, proposal)
	if err != nil {
		return nil, errors.Wrapf(err, "proposal %s %s", req.ContractType, req.Symbol)
	}
	if env.Proposal == nil || env.Proposal.ID == "" {
		return nil, malformed("proposal response without id")
	}

	maxPrice := req.MaxPrice
	if maxPrice.IsZero() {
		maxPrice = req.Amount
	}
	price, _ := maxPrice.Float64()
	buy := map[string]any{"buy": env.Proposal.ID, "price": price}
	if req.Ref != "" {
		buy["passthrough"] = map[string]any{"ref": req.Ref}
	}
	benv, err := s.request(ctx, buy)
	if err != nil {
		return nil, errors.Wrapf(err, "buy proposal %s", env.Proposal.ID)
	}
	if benv.Buy == nil || benv.Buy.ContractID == 0 {
		return nil, malformed("buy response without contract id")
	}
	sessionLog.Infof("bought contract %d (%s %s, %.2f)", benv.Buy.ContractID, req.ContractType, req.Symbol, benv.Buy.BuyPrice)
	return &Purchase{
		ProposalID:    env.Proposal.ID,
		ContractID:    benv.Buy.ContractID,
		TransactionID: benv.Buy.TransactionID,
		BuyPrice:      decimal.NewFromFloat(benv.Buy.BuyPrice),
		Payout:        decimal.NewFromFloat(benv.Buy.Payout),
		Longcode:      benv.Buy.Longcode,
	}, nil
}

// SubscribeContract registers fn for updates on contractID. fn runs on the
// read loop and is dropped after the sold update.
func (s *Session) SubscribeContract(ctx context.Context, contractID int64, fn ContractHandler) error {
	s.contractsMu.Lock()
	s.contracts[contractID] = fn
	s.contractsMu.Unlock()

	env, err := s.request(ctx, map[string]any{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
		"subscribe":              1,
	})
	if err != nil {
		s.contractsMu.Lock()
		delete(s.contracts, contractID)
		s.contractsMu.Unlock()
		return errors.Wrapf(err, "subscribe contract %d", contractID)
	}
	// The subscribe response already carries the current contract state.
	if env.OpenContract != nil {
		s.dispatchContract(env.OpenContract.update())
	}
	return nil
}

// dispatchContract routes an update to its handler. Handlers may be invoked
// from the read loop and from SubscribeContract's caller.
func (s *Session) dispatchContract(u ContractUpdate) {
	s.contractsMu.Lock()
	fn, ok := s.contracts[u.ContractID]
	if ok && u.IsSold {
		delete(s.contracts, u.ContractID)
	}
	s.contractsMu.Unlock()
	if !ok || fn == nil {
		return
	}
	fn(u)
}
