package metrics

// 内置指标名称
const (
	HTTPReqsName          = "http_reqs"
	HTTPReqFailedName     = "http_req_failed"
	HTTPReqDurationName   = "http_req_duration"
	ChecksName            = "checks"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"
	IterationErrorsName   = "iteration_errors"
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
	VUsDeficitName        = "vus_deficit"
	VUSpawnFailuresName   = "vu_spawn_failures"
	DataSentName          = "data_sent"
	DataReceivedName      = "data_received"
)

// CheckTag 是 checks 样本上携带检查名称的标签
const CheckTag = "check"

type builtinDef struct {
	Type     MetricType
	Contains ValueType
}

var builtinDefs = map[string]builtinDef{
	HTTPReqsName:          {Counter, Default},
	HTTPReqFailedName:     {Rate, Default},
	HTTPReqDurationName:   {Trend, Time},
	ChecksName:            {Rate, Default},
	IterationsName:        {Counter, Default},
	IterationDurationName: {Trend, Time},
	IterationErrorsName:   {Counter, Default},
	VUsName:               {Gauge, Default},
	VUsMaxName:            {Gauge, Default},
	VUsDeficitName:        {Gauge, Default},
	VUSpawnFailuresName:   {Counter, Default},
	DataSentName:          {Counter, Data},
	DataReceivedName:      {Counter, Data},
}

// BuiltinType reports the type of a built-in metric.
func BuiltinType(name string) (MetricType, bool) {
	def, ok := builtinDefs[name]
	return def.Type, ok
}

// BuiltinMetrics holds the metrics every run registers up front.
type BuiltinMetrics struct {
	HTTPReqs          *Metric
	HTTPReqFailed     *Metric
	HTTPReqDuration   *Metric
	Checks            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	IterationErrors   *Metric
	VUs               *Metric
	VUsMax            *Metric
	VUsDeficit        *Metric
	VUSpawnFailures   *Metric
	DataSent          *Metric
	DataReceived      *Metric
}

// RegisterBuiltinMetrics registers all built-in metrics on s.
func RegisterBuiltinMetrics(s *Store) *BuiltinMetrics {
	get := func(name string) *Metric {
		def := builtinDefs[name]
		return s.MustMetric(name, def.Type, def.Contains)
	}
	return &BuiltinMetrics{
		HTTPReqs:          get(HTTPReqsName),
		HTTPReqFailed:     get(HTTPReqFailedName),
		HTTPReqDuration:   get(HTTPReqDurationName),
		Checks:            get(ChecksName),
		Iterations:        get(IterationsName),
		IterationDuration: get(IterationDurationName),
		IterationErrors:   get(IterationErrorsName),
		VUs:               get(VUsName),
		VUsMax:            get(VUsMaxName),
		VUsDeficit:        get(VUsDeficitName),
		VUSpawnFailures:   get(VUSpawnFailuresName),
		DataSent:          get(DataSentName),
		DataReceived:      get(DataReceivedName),
	}
}
