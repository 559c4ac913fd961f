package quota

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ReadPolicy decides the credit count reported when the ledger cannot be read.
type ReadPolicy string

const (
	// ReadPolicyFailOpen reports full credits on read failure. An outage
	// therefore over-grants; the atomic consume still caps recorded generations.
	ReadPolicyFailOpen ReadPolicy = "fail_open"
	// ReadPolicyFailClosed reports zero credits on read failure.
	ReadPolicyFailClosed ReadPolicy = "fail_closed"
)

// ParseReadPolicy converts a config value into a ReadPolicy. Empty means fail-open.
func ParseReadPolicy(value string) (ReadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fail_open", "fail-open", "open":
		return ReadPolicyFailOpen, nil
	case "fail_closed", "fail-closed", "closed":
		return ReadPolicyFailClosed, nil
	default:
		return "", fmt.Errorf("unknown quota read policy %q", value)
	}
}

func (p ReadPolicy) onReadFailure(userID, day string, err error) int {
	credits := MaxCredits
	if p == ReadPolicyFailClosed {
		credits = 0
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"user_id": userID,
		"day":     day,
		"policy":  string(p),
		"credits": credits,
	}).Warn("quota read failed")
	return credits
}
