package financeapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/shopspring/decimal"
)

// amount accepts JSON numbers, numeric strings ("1,234.50") and null.
type amount struct {
	value decimal.Decimal
	valid bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = amount{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*a = amount{}
			return nil
		}
		d, err := utils.ParseDecimal(s)
		if err != nil {
			return fmt.Errorf("invalid amount %q", s)
		}
		*a = amount{value: d, valid: true}
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("invalid amount %s", string(b))
	}
	*a = amount{value: d, valid: true}
	return nil
}

func (a amount) orZero() decimal.Decimal {
	if !a.valid {
		return decimal.Zero
	}
	return a.value
}

// flexString accepts strings and numbers (sub_id is sometimes numeric).
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type listEnvelope struct {
	Results    []json.RawMessage `json:"results"`
	Pagination struct {
		LastIndexes map[string]flexString `json:"last_indexes"`
	} `json:"pagination"`
}

type wireCommittee struct {
	CommitteeId   flexString `json:"committee_id"`
	Name          string     `json:"name"`
	Designation   string     `json:"designation"`
	CommitteeType string     `json:"committee_type"`
}

type wireTotals struct {
	IndividualItemized    amount `json:"individual_itemized_contributions"`
	IndividualUnitemized  amount `json:"individual_unitemized_contributions"`
	Receipts              amount `json:"receipts"`
	PacContributions      amount `json:"other_political_committee_contributions"`
	PartyContributions    amount `json:"political_party_committee_contributions"`
	Loans                 amount `json:"loans"`
	Transfers             amount `json:"transfers_from_other_authorized_committee"`
	CandidateContribution amount `json:"candidate_contribution"`
	OtherReceipts         amount `json:"other_receipts"`
}

type wireContribution struct {
	SubId       flexString `json:"sub_id"`
	Amount      amount     `json:"contribution_receipt_amount"`
	DonorName   string     `json:"contributor_name"`
	EntityType  string     `json:"entity_type"`
	LineNumber  string     `json:"line_number"`
	ReceiptType string     `json:"receipt_type"`
	ReceiptDate string     `json:"contribution_receipt_date"`
	MemoCode    string     `json:"memo_code"`
	MemoText    string     `json:"memo_text"`
}

var errMissingId = errors.New("record id missing")

func parseCommittees(body []byte) ([]Committee, error) {
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	out := make([]Committee, 0, len(env.Results))
	for _, raw := range env.Results {
		var w wireCommittee
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		id := strings.TrimSpace(string(w.CommitteeId))
		if id == "" {
			continue
		}
		out = append(out, Committee{
			ExternalCommitteeId: id,
			Name:                strings.TrimSpace(w.Name),
			Designation:         strings.ToUpper(strings.TrimSpace(w.Designation)),
			CommitteeType:       strings.ToUpper(strings.TrimSpace(w.CommitteeType)),
		})
	}
	return out, nil
}

// parseTotals returns nil when the authority has no row for the cycle.
func parseTotals(body []byte) (*CommitteeTotals, error) {
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if len(env.Results) == 0 {
		return nil, nil
	}
	var w wireTotals
	if err := json.Unmarshal(env.Results[0], &w); err != nil {
		return nil, err
	}
	return &CommitteeTotals{
		Itemized:              w.IndividualItemized.orZero(),
		Unitemized:            w.IndividualUnitemized.orZero(),
		TotalReceipts:         w.Receipts.orZero(),
		PacContributions:      w.PacContributions.orZero(),
		PartyContributions:    w.PartyContributions.orZero(),
		Loans:                 w.Loans.orZero(),
		Transfers:             w.Transfers.orZero(),
		CandidateContribution: w.CandidateContribution.orZero(),
		OtherReceipts:         w.OtherReceipts.orZero(),
	}, nil
}

func parseContributionPage(body []byte) (*ContributionPage, error) {
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	page := &ContributionPage{Records: make([]Contribution, 0, len(env.Results))}
	for _, raw := range env.Results {
		rec, err := parseContribution(raw)
		if err != nil {
			page.Rejected = append(page.Rejected, RejectedRecord{
				ExternalRecordId: rec.ExternalRecordId,
				Reason:           err.Error(),
				Raw:              append([]byte(nil), raw...),
			})
			continue
		}
		page.Records = append(page.Records, rec)
	}
	if len(env.Results) > 0 && len(env.Pagination.LastIndexes) > 0 {
		page.NextCursor = encodeCursor(env.Pagination.LastIndexes)
		page.HasMore = page.NextCursor != ""
	}
	return page, nil
}

func parseContribution(raw json.RawMessage) (Contribution, error) {
	var w wireContribution
	if err := json.Unmarshal(raw, &w); err != nil {
		// Recover the id for the error row when only the amount is broken.
		var idOnly struct {
			SubId flexString `json:"sub_id"`
		}
		_ = json.Unmarshal(raw, &idOnly)
		return Contribution{ExternalRecordId: string(idOnly.SubId)}, err
	}
	id := strings.TrimSpace(string(w.SubId))
	if id == "" {
		return Contribution{}, errMissingId
	}
	if !w.Amount.valid {
		return Contribution{ExternalRecordId: id}, errors.New("amount missing")
	}
	return Contribution{
		ExternalRecordId: id,
		Amount:           w.Amount.value,
		DonorName:        strings.TrimSpace(w.DonorName),
		EntityType:       strings.ToUpper(strings.TrimSpace(w.EntityType)),
		LineNumber:       normalizeLineNumber(w.LineNumber),
		ReceiptType:      strings.ToUpper(strings.TrimSpace(w.ReceiptType)),
		ReceivedAt:       parseDate(w.ReceiptDate),
		MemoCode:         strings.ToUpper(strings.TrimSpace(w.MemoCode)),
		MemoText:         strings.TrimSpace(w.MemoText),
	}, nil
}

func normalizeLineNumber(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.TrimPrefix(v, "SA")
}

func parseDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// encodeCursor packs the pagination indexes as a query string. The key order is stable.
func encodeCursor(indexes map[string]flexString) Cursor {
	vals := url.Values{}
	for k, v := range indexes {
		if strings.TrimSpace(string(v)) == "" {
			continue
		}
		vals.Set(k, string(v))
	}
	return Cursor(vals.Encode())
}

func decodeCursor(c Cursor) url.Values {
	if c == "" {
		return nil
	}
	vals, err := url.ParseQuery(string(c))
	if err != nil {
		return nil
	}
	return vals
}
