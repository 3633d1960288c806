package domain

import "strings"

// Status is the closed set of lifecycle states. Historically the status was a
// free-form string and the literals drifted between versions; keeping a tagged
// enum internally and translating at the boundary (ParseStatus) prevents that.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusRejectedForStock Status = "REJECTED_FOR_STOCK"
	StatusShipped          Status = "SHIPPED"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
)

// statusTokens is the external-wire mapping table. Keys are lowercased before
// lookup so "Shipped", "SHIPPED" and "shipped" all resolve to StatusShipped.
var statusTokens = map[string]Status{
	"pending":            StatusPending,
	"confirmed":          StatusConfirmed,
	"rejected_for_stock": StatusRejectedForStock,
	"shipped":            StatusShipped,
	"delivered":          StatusDelivered,
	"cancelled":          StatusCancelled,
}

// ParseStatus translates an external status token into the internal enum.
// The second return value reports whether the token was recognised.
func ParseStatus(s string) (Status, bool) {
	status, ok := statusTokens[strings.ToLower(strings.TrimSpace(s))]
	return status, ok
}

// Terminal reports whether the confirmation saga is finished for an order in
// this state. A rejected order can still be cancelled administratively, but
// no further saga step applies to it.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejectedForStock, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
