package enums

import (
	"fmt"
	"strings"
	"time"
)

// BillingCycle is the renewal cadence of a subscription plan.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (b BillingCycle) String() string {
	return string(b)
}

func (b BillingCycle) IsValid() bool {
	return b == BillingCycleMonthly || b == BillingCycleYearly
}

// PeriodEnd returns the end of a billing period that starts at start.
// Anything other than yearly is treated as monthly.
func (b BillingCycle) PeriodEnd(start time.Time) time.Time {
	if b == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// ParseBillingCycle accepts monthly/yearly plus the common month/year/annual aliases.
func ParseBillingCycle(value string) (BillingCycle, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "monthly", "month", "":
		return BillingCycleMonthly, nil
	case "yearly", "year", "annual", "annually":
		return BillingCycleYearly, nil
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}
