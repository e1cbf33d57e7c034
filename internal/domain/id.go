package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewPurchaseID returns an id of the form "<unixMillis>_<random>".
func NewPurchaseID(now time.Time) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), randomSuffix())
}

// NewDonationID returns an id of the form "<unixMillis>_<causeID>_<random>".
func NewDonationID(now time.Time, causeID string) string {
	return fmt.Sprintf("%d_%s_%s", now.UnixMilli(), causeID, randomSuffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
