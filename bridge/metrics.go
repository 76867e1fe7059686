package bridge

// Metric names reported by the bridge.
const (
	metricReceived       = "osc.received"
	metricReceiveErrors  = "osc.receive_errors"
	metricSent           = "osc.sent"
	metricSendErrors     = "osc.send_errors"
	metricObserves       = "observe.requests"
	metricAttachRequests = "attach.requests"
	metricAttachErrors   = "attach.errors"
	metricDetaches       = "detaches"
	metricUpdates        = "updates.applied"
	metricFieldsDropped  = "fields.dropped"
	metricAttachments    = "attachments"
)
