package deriv

import (
	"encoding/json"
	"strings"
)

// envelope is the union of every response shape the session reads.
type envelope struct {
	MsgType     string          `json:"msg_type"`
	ReqID       int64           `json:"req_id,omitempty"`
	Error       *APIError       `json:"error,omitempty"`
	EchoReq     json.RawMessage `json:"echo_req,omitempty"`
	Passthrough json.RawMessage `json:"passthrough,omitempty"`

	Authorize    *authorizeBody    `json:"authorize,omitempty"`
	Tick         *tickBody         `json:"tick,omitempty"`
	Proposal     *proposalBody     `json:"proposal,omitempty"`
	Buy          *buyBody          `json:"buy,omitempty"`
	OpenContract *openContractBody `json:"proposal_open_contract,omitempty"`
}

type authorizeBody struct {
	Email     string  `json:"email"`
	LoginID   string  `json:"loginid"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	Fullname  string  `json:"fullname"`
	IsVirtual int     `json:"is_virtual"`
}

type tickBody struct {
	Symbol string   `json:"symbol"`
	Quote  *float64 `json:"quote"`
	Epoch  int64    `json:"epoch"`
	ID     string   `json:"id"`
}

type proposalBody struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Longcode string  `json:"longcode"`
}

type buyBody struct {
	ContractID    int64   `json:"contract_id"`
	BuyPrice      float64 `json:"buy_price"`
	Payout        float64 `json:"payout"`
	TransactionID int64   `json:"transaction_id"`
	Longcode      string  `json:"longcode"`
	StartTime     int64   `json:"start_time"`
}

type openContractBody struct {
	ContractID int64   `json:"contract_id"`
	Status     string  `json:"status"`
	IsSold     int     `json:"is_sold"`
	Profit     float64 `json:"profit"`
	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	EntrySpot  float64 `json:"entry_spot"`
	ExitSpot   float64 `json:"exit_tick"`
	Underlying string  `json:"underlying"`
}

// AccountInfo is what authorize tells us about the logged-in account.
type AccountInfo struct {
	LoginID  string  `json:"loginid"`
	Email    string  `json:"email"`
	FullName string  `json:"fullname,omitempty"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
	IsDemo   bool    `json:"is_demo"`
}

func (b *authorizeBody) account() AccountInfo {
	return AccountInfo{
		LoginID:  b.LoginID,
		Email:    b.Email,
		FullName: b.Fullname,
		Currency: b.Currency,
		Balance:  b.Balance,
		IsDemo:   b.IsVirtual == 1 || strings.HasPrefix(b.LoginID, "VRTC"),
	}
}

// ContractUpdate is one proposal_open_contract update.
type ContractUpdate struct {
	ContractID int64
	Symbol     string
	Status     string // open, won, lost, sold
	IsSold     bool
	Profit     float64
	BuyPrice   float64
	SellPrice  float64
}

func (b *openContractBody) update() ContractUpdate {
	return ContractUpdate{
		ContractID: b.ContractID,
		Symbol:     b.Underlying,
		Status:     b.Status,
		IsSold:     b.IsSold == 1,
		Profit:     b.Profit,
		BuyPrice:   b.BuyPrice,
		SellPrice:  b.SellPrice,
	}
}
