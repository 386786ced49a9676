package financeapi

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory API for tests and local tooling. Pages are keyed by committee id and
// the cursor that requests them ("" for the first page).
type Fake struct {
	mu sync.Mutex

	Committees map[string][]Committee
	Totals     map[string]*CommitteeTotals
	Pages      map[string]map[Cursor]*ContributionPage

	// TotalsErr injects transport failures per committee id, PageErr per requested cursor.
	TotalsErr map[string]error
	PageErr   map[string]error

	Calls []string
}

var _ API = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Committees: map[string][]Committee{},
		Totals:     map[string]*CommitteeTotals{},
		Pages:      map[string]map[Cursor]*ContributionPage{},
		TotalsErr:  map[string]error{},
		PageErr:    map[string]error{},
	}
}

func (f *Fake) AddPage(committeeId string, cursor Cursor, page *ContributionPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Pages[committeeId] == nil {
		f.Pages[committeeId] = map[Cursor]*ContributionPage{}
	}
	f.Pages[committeeId][cursor] = page
}

func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *Fake) FetchCommitteesForCandidate(ctx context.Context, externalCandidateId string) ([]Committee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "committees:"+externalCandidateId)
	return append([]Committee(nil), f.Committees[externalCandidateId]...), nil
}

func (f *Fake) FetchCommitteeTotals(ctx context.Context, externalCommitteeId string, cycle int) (*CommitteeTotals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, fmt.Sprintf("totals:%s:%d", externalCommitteeId, cycle))
	if err := f.TotalsErr[externalCommitteeId]; err != nil {
		return nil, err
	}
	t := f.Totals[externalCommitteeId]
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *Fake) FetchItemizedContributionsPage(ctx context.Context, externalCommitteeId string, cycle int, cursor Cursor) (*ContributionPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, fmt.Sprintf("page:%s:%s", externalCommitteeId, cursor))
	if err := f.PageErr[string(cursor)]; err != nil {
		return nil, err
	}
	pages := f.Pages[externalCommitteeId]
	if pages == nil {
		return nil, nil
	}
	p := pages[cursor]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}
