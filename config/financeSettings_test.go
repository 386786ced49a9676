package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadFinanceSettings_Defaults(t *testing.T) {
	t.Setenv("FINANCE_API_BASE_URL", "")
	t.Setenv("FINANCE_CONDUIT_ORGS", "")

	s, err := LoadFinanceSettings()
	if err != nil {
		t.Fatalf("LoadFinanceSettings: %v", err)
	}
	if s.MinRequestDelay != 500*time.Millisecond {
		t.Fatalf("expected 500ms delay, got %s", s.MinRequestDelay)
	}
	if !s.WarningPct.Equal(decimal.NewFromInt(5)) || !s.ErrorPct.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected thresholds warning=%s error=%s", s.WarningPct, s.ErrorPct)
	}
	if s.DefaultCycle != 2024 || s.BatchLimit != 50 {
		t.Fatalf("unexpected cycle=%d limit=%d", s.DefaultCycle, s.BatchLimit)
	}
	if len(s.ConduitOrgs) != len(DefaultConduitOrgs) {
		t.Fatalf("expected default conduit orgs, got %v", s.ConduitOrgs)
	}
}

func TestLoadFinanceSettings_EnvOverrides(t *testing.T) {
	t.Setenv("FINANCE_API_BASE_URL", "http://localhost:9999/v1/")
	t.Setenv("FINANCE_API_MIN_DELAY_MS", "0")
	t.Setenv("FINANCE_WARNING_PCT", "2.5")
	t.Setenv("FINANCE_ERROR_PCT", "7")
	t.Setenv("FINANCE_CONDUIT_ORGS", " ActBlue , Acme Payments ,")

	s, err := LoadFinanceSettings()
	if err != nil {
		t.Fatalf("LoadFinanceSettings: %v", err)
	}
	if s.APIBaseURL != "http://localhost:9999/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", s.APIBaseURL)
	}
	if s.MinRequestDelay != 0 {
		t.Fatalf("expected zero delay, got %s", s.MinRequestDelay)
	}
	if s.WarningPct.String() != "2.5" || s.ErrorPct.String() != "7" {
		t.Fatalf("unexpected thresholds warning=%s error=%s", s.WarningPct, s.ErrorPct)
	}
	if len(s.ConduitOrgs) != 2 || s.ConduitOrgs[1] != "Acme Payments" {
		t.Fatalf("unexpected conduit orgs %v", s.ConduitOrgs)
	}
}

func TestFinanceSettingsValidate_RejectsInvertedThresholds(t *testing.T) {
	s := DefaultFinanceSettings()
	s.WarningPct = decimal.NewFromInt(12)
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error when warning pct exceeds error pct")
	}
}

func TestFinanceSettingsValidate_RejectsBadPageSize(t *testing.T) {
	s := DefaultFinanceSettings()
	s.PageSize = 0
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for page size 0")
	}
}
