package metrics

// Names of the metrics every run declares.
const (
	HTTPReqsName              = "http_reqs"
	HTTPReqDurationName       = "http_req_duration"
	HTTPReqWaitingName        = "http_req_waiting"
	HTTPReqConnectingName     = "http_req_connecting"
	HTTPReqTLSHandshakingName = "http_req_tls_handshaking"
	HTTPReqReceivingName      = "http_req_receiving"
	HTTPReqFailedName         = "http_req_failed"
	ChecksName                = "checks"
	IterationsName            = "iterations"
	IterationDurationName     = "iteration_duration"
	IterationFailedName       = "iteration_failed"
	GroupDurationName         = "group_duration"
	DataReceivedName          = "data_received"
	DataSentName              = "data_sent"
	VUsName                   = "vus"
	VUsMaxName                = "vus_max"
)

// BuiltinMetrics holds the metrics the engine and HTTP client record into.
type BuiltinMetrics struct {
	HTTPReqs              *Metric
	HTTPReqDuration       *Metric
	HTTPReqWaiting        *Metric
	HTTPReqConnecting     *Metric
	HTTPReqTLSHandshaking *Metric
	HTTPReqReceiving      *Metric
	HTTPReqFailed         *Metric

	Checks            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	IterationFailed   *Metric
	GroupDuration     *Metric

	DataReceived *Metric
	DataSent     *Metric

	VUs    *Metric
	VUsMax *Metric
}

// RegisterBuiltins declares the built-in metrics on r.
func RegisterBuiltins(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		HTTPReqs:              r.MustNewMetric(HTTPReqsName, Counter),
		HTTPReqDuration:       r.MustNewMetric(HTTPReqDurationName, Trend, Time),
		HTTPReqWaiting:        r.MustNewMetric(HTTPReqWaitingName, Trend, Time),
		HTTPReqConnecting:     r.MustNewMetric(HTTPReqConnectingName, Trend, Time),
		HTTPReqTLSHandshaking: r.MustNewMetric(HTTPReqTLSHandshakingName, Trend, Time),
		HTTPReqReceiving:      r.MustNewMetric(HTTPReqReceivingName, Trend, Time),
		HTTPReqFailed:         r.MustNewMetric(HTTPReqFailedName, Rate),

		Checks:            r.MustNewMetric(ChecksName, Rate),
		Iterations:        r.MustNewMetric(IterationsName, Counter),
		IterationDuration: r.MustNewMetric(IterationDurationName, Trend, Time),
		IterationFailed:   r.MustNewMetric(IterationFailedName, Rate),
		GroupDuration:     r.MustNewMetric(GroupDurationName, Trend, Time),

		DataReceived: r.MustNewMetric(DataReceivedName, Counter, Data),
		DataSent:     r.MustNewMetric(DataSentName, Counter, Data),

		VUs:    r.MustNewMetric(VUsName, Gauge),
		VUsMax: r.MustNewMetric(VUsMaxName, Gauge),
	}
}
