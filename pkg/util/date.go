package util

import (
    "time"
)

// YearFraction returns the ACT/365 time between asOf and expiry in years.
// Expiries at or before asOf come back as 0.
func YearFraction(asOf, expiry time.Time) float64 {
    if !expiry.After(asOf) {
        return 0
    }
    return expiry.Sub(asOf).Hours() / (24 * 365)
}
