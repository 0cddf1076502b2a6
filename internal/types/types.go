// Package types provides the shared domain types of the wallet tracker.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// NeverSentinel is the upstream value of last_out for addresses that never spent
const NeverSentinel = "Never"

// WalletRecord is one parsed row of a ranking page
type WalletRecord struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	FirstIn string          `json:"firstIn"`
	LastIn  string          `json:"lastIn"`
	LastOut string          `json:"lastOut"`
}

// HasOutgoing reports whether the record carries a real last_out date
func HasOutgoing(lastOut string) bool {
	return lastOut != "" && lastOut != NeverSentinel
}

// WalletSnapshot is one persisted observation of one address.
// (Address, CapturedAt) is unique within a store; snapshots are never mutated.
type WalletSnapshot struct {
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	FirstIn    string          `json:"firstIn"`
	LastIn     string          `json:"lastIn"`
	LastOut    string          `json:"lastOut"`
	CapturedAt time.Time       `json:"capturedAt"`
	ScanID     string          `json:"scanId"`
}

// ScanRecord is the metadata of one collection run
type ScanRecord struct {
	ScanID           string          `json:"scanId"`
	Timestamp        time.Time       `json:"timestamp"`
	PagesRequested   int             `json:"pagesRequested"`
	WalletsCollected int             `json:"walletsCollected"`
	TotalBalance     decimal.Decimal `json:"totalBalance"`
}

// ScanBatch is the input of one store write
type ScanBatch struct {
	PagesRequested int
	Records        []WalletRecord
}

// BalanceGroup is a balance value held by more than one address in the latest state
type BalanceGroup struct {
	BalanceValue      decimal.Decimal `json:"balanceValue"`
	MemberAddresses   []string        `json:"memberAddresses"`
	MemberCount       int             `json:"memberCount"`
	TotalGroupBalance decimal.Decimal `json:"totalGroupBalance"`
}

// BalancePoint is one point of an address balance trajectory
type BalancePoint struct {
	CapturedAt time.Time       `json:"capturedAt"`
	Balance    decimal.Decimal `json:"balance"`
	ScanID     string          `json:"scanId"`
}

// DailyFlowStat is the approximate net flow of one calendar day.
// Derived from last_in/last_out dates, not from a transaction ledger.
type DailyFlowStat struct {
	Day             time.Time       `json:"day"`
	NetTransactions int             `json:"netTransactions"`
	NetVolume       decimal.Decimal `json:"netVolume"`
	IncomingEvents  int             `json:"incomingEvents"`
	OutgoingEvents  int             `json:"outgoingEvents"`
	IncomingVolume  decimal.Decimal `json:"incomingVolume"`
	OutgoingVolume  decimal.Decimal `json:"outgoingVolume"`
}

// SignalLabel is the classification of the market signal heuristic
type SignalLabel string

const (
	SignalBuy     SignalLabel = "BUY"
	SignalSell    SignalLabel = "SELL"
	SignalNeutral SignalLabel = "NEUTRAL"
	SignalError   SignalLabel = "ERROR"
)

// MarketSignal is the output of the signal heuristic
type MarketSignal struct {
	Label      SignalLabel        `json:"label"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// Summary holds the headline numbers over the latest state
type Summary struct {
	TotalWallets   int             `json:"totalWallets"`
	TotalBalance   decimal.Decimal `json:"totalBalance"`
	AverageBalance decimal.Decimal `json:"averageBalance"`
	LatestScan     *ScanRecord     `json:"latestScan,omitempty"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
