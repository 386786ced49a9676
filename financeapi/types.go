package financeapi

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Cursor is the authority's continuation token. Callers store and echo it back; only this
// package looks inside.
type Cursor string

// API is the External Finance Client surface. A nil result with a nil error means the
// authority had no usable data; only transport failures return an error.
type API interface {
	FetchCommitteesForCandidate(ctx context.Context, externalCandidateId string) ([]Committee, error)
	FetchCommitteeTotals(ctx context.Context, externalCommitteeId string, cycle int) (*CommitteeTotals, error)
	FetchItemizedContributionsPage(ctx context.Context, externalCommitteeId string, cycle int, cursor Cursor) (*ContributionPage, error)
}

type Committee struct {
	ExternalCommitteeId string
	Name                string
	Designation         string
	CommitteeType       string
}

type CommitteeTotals struct {
	Itemized              decimal.Decimal
	Unitemized            decimal.Decimal
	TotalReceipts         decimal.Decimal
	PacContributions      decimal.Decimal
	PartyContributions    decimal.Decimal
	Loans                 decimal.Decimal
	Transfers             decimal.Decimal
	CandidateContribution decimal.Decimal
	OtherReceipts         decimal.Decimal
}

type Contribution struct {
	ExternalRecordId string
	Amount           decimal.Decimal
	DonorName        string
	EntityType       string
	LineNumber       string
	ReceiptType      string
	ReceivedAt       *time.Time
	MemoCode         string
	MemoText         string
}

// IsTransfer reports transfers from other authorized committees (line 12).
func (c Contribution) IsTransfer() bool {
	return len(c.LineNumber) >= 2 && c.LineNumber[:2] == "12"
}

// IsContribution reports contributions proper (line 11 and its sub-lines).
func (c Contribution) IsContribution() bool {
	return len(c.LineNumber) >= 2 && c.LineNumber[:2] == "11"
}

// RejectedRecord is a row on a page that failed validation; the page still advances.
type RejectedRecord struct {
	ExternalRecordId string
	Reason           string
	Raw              []byte
}

type ContributionPage struct {
	Records    []Contribution
	Rejected   []RejectedRecord
	NextCursor Cursor
	HasMore    bool
}
