package provider

import (
	"strings"

	"ComandaPay/internal/models"
)

type Normalized string

const (
	Approved  Normalized = "approved"
	Cancelled Normalized = "cancelled"
	Pending   Normalized = "pending"
)

var defaultApproved = []string{"paid", "approved", "completed", "settled", "authorized", "captured"}

var defaultCancelled = []string{"expired", "inactive", "cancelled", "canceled", "refunded", "rejected", "failed"}

var approvedStatuses = map[models.Provider][]string{
	models.ProviderMercadoPago: defaultApproved,
	models.ProviderPicPay:      defaultApproved,
}

var cancelledStatuses = map[models.Provider][]string{
	models.ProviderMercadoPago: append(append([]string{}, defaultCancelled...), "charged_back"),
	models.ProviderPicPay:      append(append([]string{}, defaultCancelled...), "chargeback"),
}

func ApprovedStatuses(p models.Provider) []string {
	if list, ok := approvedStatuses[p]; ok {
		return append([]string(nil), list...)
	}
	return append([]string(nil), defaultApproved...)
}

func CancelledStatuses(p models.Provider) []string {
	if list, ok := cancelledStatuses[p]; ok {
		return append([]string(nil), list...)
	}
	return append([]string(nil), defaultCancelled...)
}

// Normalize never fails: anything unrecognized, including an empty status,
// is Pending so the caller keeps polling.
func Normalize(p models.Provider, raw RawStatus) Normalized {
	return NormalizeString(p, raw.Status)
}

func NormalizeString(p models.Provider, status string) Normalized {
	s := canonical(status)
	if s == "" {
		return Pending
	}
	if contains(ApprovedStatuses(p), s) {
		return Approved
	}
	if contains(CancelledStatuses(p), s) {
		return Cancelled
	}
	return Pending
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
