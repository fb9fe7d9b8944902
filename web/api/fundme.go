package api

import (
	"time"

	"github.com/screwyprof/fundme/notify"
)

// SessionResponse is the wallet session as shown to clients
type SessionResponse struct {
	Connected    bool   `json:"connected"`
	Account      string `json:"account,omitempty"`
	ChainID      string `json:"chainId,omitempty"`
	Owner        string `json:"owner,omitempty"`
	IsOwner      bool   `json:"isOwner"`
	WrongNetwork bool   `json:"wrongNetwork"`
	Contract     string `json:"contract,omitempty"`
}

// DisconnectResponse tells the client whether the wallet still lists the site
type DisconnectResponse struct {
	ManualRevokeRequired bool `json:"manualRevokeRequired"`
}

// Contributor is one funder with the amount in wei and ether
type Contributor struct {
	Address string `json:"address"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

// FundersResponse represents the API response format for GET /funders
type FundersResponse struct {
	Contract    string        `json:"contract,omitempty"`
	Data        []Contributor `json:"data"`
	Skipped     int           `json:"skipped"`
	Restored    bool          `json:"restored"`
	FetchedAt   *time.Time    `json:"fetchedAt,omitempty"`
	LastUpdated *time.Time    `json:"lastUpdated,omitempty"`
	LastAttempt *time.Time    `json:"lastAttempt,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// FundRequest is the body of POST /fund
type FundRequest struct {
	Amount string `json:"amount"`
}

// ActionResponse is a pending fund or withdraw action
type ActionResponse struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount,omitempty"`
	AmountWei string    `json:"amountWei,omitempty"`
	State     string    `json:"state"`
	TxHash    string    `json:"txHash,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActionsResponse represents the API response format for GET /actions
type ActionsResponse struct {
	Data []ActionResponse `json:"data"`
}

// NoticesResponse represents the API response format for GET /notifications
type NoticesResponse struct {
	Data []notify.Notice `json:"data"`
}

// Message types pushed over /ws
const (
	MessageNotice  = "notice"
	MessageSession = "session"
	MessageRoster  = "roster"
	MessageAction  = "action"
)

// Message is one WebSocket push
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
