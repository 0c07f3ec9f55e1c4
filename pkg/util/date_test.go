package util

import (
    "testing"
    "time"
)

func TestYearFraction(t *testing.T) {
    asOf := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
    if got := YearFraction(asOf, asOf.AddDate(1, 0, 0)); got < 0.99 || got > 1.01 {
        t.Fatalf("one year = %v", got)
    }
    if got := YearFraction(asOf, asOf.Add(-time.Hour)); got != 0 {
        t.Fatalf("past expiry = %v, want 0", got)
    }
}
