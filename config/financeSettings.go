package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/shopspring/decimal"
)

// DefaultConduitOrgs are payment intermediaries whose aggregate rows duplicate individually
// itemized donations.
var DefaultConduitOrgs = []string{"ACTBLUE", "WINRED", "DEMOCRACY ENGINE", "ANEDOT", "REVV"}

// FinanceSettings holds every tunable of the reconciliation engine.
//
// Set via env:
// - FINANCE_API_BASE_URL, FINANCE_API_KEY, FINANCE_API_KEY_HEADER
// - FINANCE_API_MIN_DELAY_MS (default 500), FINANCE_API_TIMEOUT_SECONDS (default 30), FINANCE_API_PAGE_SIZE (default 100)
// - FINANCE_DEFAULT_CYCLE (default 2024)
// - FINANCE_WARNING_PCT (default 5), FINANCE_ERROR_PCT (default 10), FINANCE_BALANCE_TOLERANCE (default 1)
// - FINANCE_STALE_AFTER_HOURS (default 168), FINANCE_BATCH_LIMIT (default 50)
// - FINANCE_CONDUIT_ORGS="ActBlue,WinRed,..."
// - FINANCE_STATUS_CACHE_SECONDS (default 300)
// - FINANCE_BATCH_TOPIC, FINANCE_SYNC_TOPIC
type FinanceSettings struct {
	APIBaseURL      string        `validate:"required,url"`
	APIKey          string        ``
	APIKeyHeader    string        `validate:"required"`
	MinRequestDelay time.Duration `validate:"gte=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	PageSize        int           `validate:"gte=1,lte=100"`

	DefaultCycle     int             `validate:"gte=1980,lte=2100"`
	WarningPct       decimal.Decimal ``
	ErrorPct         decimal.Decimal ``
	BalanceTolerance decimal.Decimal ``

	StaleAfter     time.Duration `validate:"gt=0"`
	BatchLimit     int           `validate:"gte=1,lte=1000"`
	ConduitOrgs    []string      `validate:"dive,required"`
	StatusCacheTTL time.Duration `validate:"gte=0"`

	BatchTopic string `validate:"required"`
	SyncTopic  string `validate:"required"`
}

func DefaultFinanceSettings() FinanceSettings {
	return FinanceSettings{
		APIBaseURL:       "https://api.open.fec.gov/v1",
		APIKeyHeader:     "X-Api-Key",
		MinRequestDelay:  500 * time.Millisecond,
		RequestTimeout:   30 * time.Second,
		PageSize:         100,
		DefaultCycle:     2024,
		WarningPct:       decimal.NewFromInt(5),
		ErrorPct:         decimal.NewFromInt(10),
		BalanceTolerance: decimal.NewFromInt(1),
		StaleAfter:       7 * 24 * time.Hour,
		BatchLimit:       50,
		ConduitOrgs:      append([]string(nil), DefaultConduitOrgs...),
		StatusCacheTTL:   5 * time.Minute,
		BatchTopic:       "finance-reconcile",
		SyncTopic:        "finance-sync",
	}
}

// LoadFinanceSettings reads FinanceSettings from the environment and validates them.
func LoadFinanceSettings() (FinanceSettings, error) {
	def := DefaultFinanceSettings()
	s := FinanceSettings{
		APIBaseURL:       strings.TrimRight(utils.StringFromEnv("FINANCE_API_BASE_URL", def.APIBaseURL), "/"),
		APIKey:           utils.StringFromEnv("FINANCE_API_KEY", ""),
		APIKeyHeader:     utils.StringFromEnv("FINANCE_API_KEY_HEADER", def.APIKeyHeader),
		MinRequestDelay:  time.Duration(utils.IntFromEnv("FINANCE_API_MIN_DELAY_MS", 500)) * time.Millisecond,
		RequestTimeout:   time.Duration(utils.IntFromEnv("FINANCE_API_TIMEOUT_SECONDS", 30)) * time.Second,
		PageSize:         utils.IntFromEnv("FINANCE_API_PAGE_SIZE", def.PageSize),
		DefaultCycle:     utils.IntFromEnv("FINANCE_DEFAULT_CYCLE", def.DefaultCycle),
		WarningPct:       utils.DecimalFromEnv("FINANCE_WARNING_PCT", def.WarningPct),
		ErrorPct:         utils.DecimalFromEnv("FINANCE_ERROR_PCT", def.ErrorPct),
		BalanceTolerance: utils.DecimalFromEnv("FINANCE_BALANCE_TOLERANCE", def.BalanceTolerance),
		StaleAfter:       time.Duration(utils.IntFromEnv("FINANCE_STALE_AFTER_HOURS", 168)) * time.Hour,
		BatchLimit:       utils.IntFromEnv("FINANCE_BATCH_LIMIT", def.BatchLimit),
		ConduitOrgs:      def.ConduitOrgs,
		StatusCacheTTL:   time.Duration(utils.IntFromEnv("FINANCE_STATUS_CACHE_SECONDS", 300)) * time.Second,
		BatchTopic:       utils.StringFromEnv("FINANCE_BATCH_TOPIC", def.BatchTopic),
		SyncTopic:        utils.StringFromEnv("FINANCE_SYNC_TOPIC", def.SyncTopic),
	}
	if orgs := utils.SplitAndTrim(utils.StringFromEnv("FINANCE_CONDUIT_ORGS", "")); len(orgs) > 0 {
		s.ConduitOrgs = orgs
	}
	if err := s.Validate(); err != nil {
		return FinanceSettings{}, err
	}
	return s, nil
}

func (s FinanceSettings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid finance settings: %w", err)
	}
	if s.WarningPct.IsNegative() || s.ErrorPct.IsNegative() || s.BalanceTolerance.IsNegative() {
		return fmt.Errorf("invalid finance settings: thresholds must not be negative")
	}
	if s.WarningPct.GreaterThan(s.ErrorPct) {
		return fmt.Errorf("invalid finance settings: warning pct %s exceeds error pct %s", s.WarningPct, s.ErrorPct)
	}
	return nil
}
