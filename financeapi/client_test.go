package financeapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, handler http.HandlerFunc, minDelay time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := config.DefaultFinanceSettings()
	s.APIBaseURL = srv.URL
	s.APIKey = "test-key"
	s.MinRequestDelay = minDelay
	s.RequestTimeout = 2 * time.Second
	c, err := NewClient(s, quietLogger())
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	s := config.DefaultFinanceSettings()
	_, err := NewClient(s, quietLogger())
	require.Error(t, err)
}

func TestFetchCommitteesForCandidate(t *testing.T) {
	var gotKey, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, `{"results":[
			{"committee_id":"C001","name":" Doe for Congress ","designation":"p","committee_type":"H"},
			{"committee_id":"","name":"no id"},
			{"committee_id":"C002","name":"Doe Victory Fund","designation":"J"}
		]}`)
	}, 0)

	got, err := c.FetchCommitteesForCandidate(context.Background(), "H0CA01001")
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "/candidate/H0CA01001/committees/", gotPath)
	require.Len(t, got, 2)
	assert.Equal(t, Committee{ExternalCommitteeId: "C001", Name: "Doe for Congress", Designation: "P", CommitteeType: "H"}, got[0])
	assert.Equal(t, "J", got[1].Designation)
}

func TestFetchCommitteeTotals(t *testing.T) {
	var gotCycle string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotCycle = r.URL.Query().Get("cycle")
		_, _ = io.WriteString(w, `{"results":[{
			"individual_itemized_contributions": 100000,
			"individual_unitemized_contributions": "20,000.00",
			"receipts": 125000.5,
			"other_political_committee_contributions": null,
			"political_party_committee_contributions": 1500
		}]}`)
	}, 0)

	got, err := c.FetchCommitteeTotals(context.Background(), "C001", 2024)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024", gotCycle)
	assert.Equal(t, "100000", got.Itemized.String())
	assert.Equal(t, "20000", got.Unitemized.String())
	assert.Equal(t, "125000.5", got.TotalReceipts.String())
	assert.True(t, got.PacContributions.IsZero())
	assert.Equal(t, "1500", got.PartyContributions.String())
}

func TestFetchCommitteeTotalsDegradesWithoutError(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"rate limited", http.StatusTooManyRequests, ``},
		{"malformed", http.StatusOK, `{"results": [`},
		{"wrong shape", http.StatusOK, `{"results": [{"receipts": {"nested": true}}]}`},
		{"empty", http.StatusOK, `{"results": []}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.payload)
			}, 0)
			got, err := c.FetchCommitteeTotals(context.Background(), "C001", 2024)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestTransportFailureIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	s := config.DefaultFinanceSettings()
	s.APIBaseURL = srv.URL
	s.APIKey = "k"
	s.MinRequestDelay = 0
	srv.Close()

	c, err := NewClient(s, quietLogger())
	require.NoError(t, err)
	_, err = c.FetchCommitteeTotals(context.Background(), "C001", 2024)
	require.Error(t, err)
}

func TestFetchItemizedContributionsPageCursorRoundTrip(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		seen = append(seen, q.Get("last_index"))
		if q.Get("last_index") == "" {
			_, _ = io.WriteString(w, `{"results":[
				{"sub_id": 4123, "contribution_receipt_amount": 250, "contributor_name":"SMITH, JOHN", "entity_type":"ind", "line_number":"SA11AI", "contribution_receipt_date":"2024-03-01T00:00:00"},
				{"sub_id": "", "contribution_receipt_amount": 10},
				{"sub_id": "4125", "contribution_receipt_amount": "abc"}
			], "pagination": {"last_indexes": {"last_index": "4125", "last_contribution_receipt_date": "2024-03-01"}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"results":[
			{"sub_id": "4200", "contribution_receipt_amount": 1000, "contributor_name":"ACME PAC", "entity_type":"PAC", "line_number":"11C"}
		], "pagination": {"last_indexes": null}}`)
	}, 0)

	first, err := c.FetchItemizedContributionsPage(context.Background(), "C001", 2024, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.HasMore)
	require.Len(t, first.Records, 1)
	assert.Equal(t, "4123", first.Records[0].ExternalRecordId)
	assert.Equal(t, "11AI", first.Records[0].LineNumber)
	assert.True(t, first.Records[0].IsContribution())
	assert.False(t, first.Records[0].IsTransfer())
	require.NotNil(t, first.Records[0].ReceivedAt)
	require.Len(t, first.Rejected, 2)
	assert.Equal(t, "4125", first.Rejected[1].ExternalRecordId)

	second, err := c.FetchItemizedContributionsPage(context.Background(), "C001", 2024, first.NextCursor)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.False(t, second.HasMore)
	assert.Equal(t, Cursor(""), second.NextCursor)
	assert.Equal(t, []string{"", "4125"}, seen)
}

func TestMinimumDelayBetweenRequests(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[]}`)
	}, 60*time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.FetchCommitteeTotals(context.Background(), "C001", 2024)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
}

func TestCancelledContextIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[]}`)
	}, time.Hour)

	// The first request consumes the burst; the second must wait and observe cancellation.
	_, err := c.FetchCommitteeTotals(context.Background(), "C001", 2024)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchCommitteeTotals(ctx, "C001", 2024)
	require.Error(t, err)
}
