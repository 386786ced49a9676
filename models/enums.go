package models

import (
	"errors"
	"strings"
)

type CommitteeDesignation string

const (
	CommitteeDesignationPrincipal    CommitteeDesignation = "P"
	CommitteeDesignationAuthorized   CommitteeDesignation = "A"
	CommitteeDesignationJoint        CommitteeDesignation = "J"
	CommitteeDesignationUnauthorized CommitteeDesignation = "U"
)

func (d CommitteeDesignation) IsValid() bool {
	switch d {
	case CommitteeDesignationPrincipal, CommitteeDesignationAuthorized,
		CommitteeDesignationJoint, CommitteeDesignationUnauthorized:
		return true
	}
	return false
}

// ParseCommitteeDesignation accepts both the one-letter code and the long name.
func ParseCommitteeDesignation(s string) (CommitteeDesignation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P", "PRINCIPAL", "PRINCIPAL CAMPAIGN COMMITTEE":
		return CommitteeDesignationPrincipal, nil
	case "A", "AUTHORIZED", "AUTHORIZED BY A CANDIDATE":
		return CommitteeDesignationAuthorized, nil
	case "J", "JOINT", "JOINT FUNDRAISER":
		return CommitteeDesignationJoint, nil
	case "U", "UNAUTHORIZED":
		return CommitteeDesignationUnauthorized, nil
	}
	return "", errors.New("invalid committee designation")
}

type MatchSource string

const (
	MatchSourceManual    MatchSource = "manual"
	MatchSourceAutomatic MatchSource = "automatic"
)

type DonorType string

const (
	DonorTypeIndividual   DonorType = "individual"
	DonorTypePac          DonorType = "pac"
	DonorTypeParty        DonorType = "party"
	DonorTypeCommittee    DonorType = "committee"
	DonorTypeOrganization DonorType = "organization"
	DonorTypeCandidate    DonorType = "candidate"
	DonorTypeOther        DonorType = "other"
)

// DonorTypeFromEntityCode maps the authority's entity type codes (IND, PAC, PTY, ...).
func DonorTypeFromEntityCode(code string) DonorType {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "IND":
		return DonorTypeIndividual
	case "PAC":
		return DonorTypePac
	case "PTY":
		return DonorTypeParty
	case "COM", "CCM":
		return DonorTypeCommittee
	case "ORG":
		return DonorTypeOrganization
	case "CAN":
		return DonorTypeCandidate
	}
	return DonorTypeOther
}

type ReconciliationStatus string

const (
	ReconciliationStatusOk      ReconciliationStatus = "ok"
	ReconciliationStatusWarning ReconciliationStatus = "warning"
	ReconciliationStatusError   ReconciliationStatus = "error"
	// Skipped is a run outcome only; it is never stored on FinanceReconciliation.
	ReconciliationStatusSkipped ReconciliationStatus = "skipped"
)

// DisplayStatus is what the UI badge shows for a candidate/cycle.
type DisplayStatus string

const (
	DisplayStatusNoData  DisplayStatus = "no_data"
	DisplayStatusPartial DisplayStatus = "partial"
	DisplayStatusOk      DisplayStatus = "ok"
	DisplayStatusWarning DisplayStatus = "warning"
	DisplayStatusError   DisplayStatus = "error"
)

type CommitteeSyncState string

const (
	CommitteeSyncStateNever    CommitteeSyncState = "never"
	CommitteeSyncStatePartial  CommitteeSyncState = "partial"
	CommitteeSyncStateComplete CommitteeSyncState = "complete"
)

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSuccess   = "success"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
	RunStatusCancelled = "cancelled"
)

const (
	RunTriggeredManual   = "manual"
	RunTriggeredSchedule = "schedule"
	RunTriggeredRetry    = "retry"
	RunTriggeredSystem   = "system"
)

func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusSuccess, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return true
	}
	return false
}
