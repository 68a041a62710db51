package bridge

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/fabroute/internal/model"
)

// partnerStatuses maps the partner's status vocabulary onto order states.
// Keys are case-folded.
var partnerStatuses = map[string]model.OrderStatus{
	"accepted":        model.OrderAccepted,
	"rejected":        model.OrderRejected,
	"declined":        model.OrderRejected,
	"printing":        model.OrderPrinting,
	"in_production":   model.OrderPrinting,
	"post_processing": model.OrderPostProcessing,
	"finishing":       model.OrderPostProcessing,
	"quality_check":   model.OrderQualityCheck,
	"qc":              model.OrderQualityCheck,
	"ready":           model.OrderReady,
	"ready_to_ship":   model.OrderReady,
	"shipped":         model.OrderShipped,
	"in_transit":      model.OrderShipped,
	"delivered":       model.OrderDelivered,
	"cancelled":       model.OrderCancelled,
	"canceled":        model.OrderCancelled,
	"failed":          model.OrderFailed,
	"error":           model.OrderFailed,
}

// outboundStatuses is the vocabulary sent to the partner for local changes.
var outboundStatuses = map[model.OrderStatus]string{
	model.OrderPending:        "pending",
	model.OrderRouted:         "routed",
	model.OrderAccepted:       "accepted",
	model.OrderRejected:       "rejected",
	model.OrderPrinting:       "printing",
	model.OrderPostProcessing: "post_processing",
	model.OrderQualityCheck:   "quality_check",
	model.OrderReady:          "ready",
	model.OrderShipped:        "shipped",
	model.OrderDelivered:      "delivered",
	model.OrderCancelled:      "cancelled",
	model.OrderFailed:         "failed",
}

var folder = cases.Fold()

// MapStatus translates a partner status. Unknown values are not guessed.
func MapStatus(raw string) (model.OrderStatus, bool) {
	s, ok := partnerStatuses[folder.String(strings.TrimSpace(raw))]
	return s, ok
}

// PartnerStatus returns the partner's name for s.
func PartnerStatus(s model.OrderStatus) string {
	if p, ok := outboundStatuses[s]; ok {
		return p
	}
	return strings.ToLower(string(s))
}
