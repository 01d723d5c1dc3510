package executor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Check is a named predicate over a response.
type Check struct {
	Name      string
	Predicate func(resp *types.Response) bool
}

// CheckRunner evaluates checks and records one checks sample per check.
type CheckRunner struct {
	store  *metrics.Store
	checks *metrics.Metric
	log    *zap.SugaredLogger

	// 每个检查名称对应的子指标，首次写入时注册
	subs sync.Map
}

// NewCheckRunner creates a CheckRunner writing to the built-in checks rate.
func NewCheckRunner(store *metrics.Store, builtin *metrics.BuiltinMetrics) *CheckRunner {
	return &CheckRunner{
		store:  store,
		checks: builtin.Checks,
		log:    logger.Named("checks"),
	}
}

// Run evaluates checks in order and reports whether all passed. A panicking
// predicate counts as failed. Samples of one call are written together.
func (cr *CheckRunner) Run(resp *types.Response, checks []Check, tags map[string]string) bool {
	if len(checks) == 0 {
		return true
	}

	now := time.Now()
	samples := make([]metrics.Sample, 0, len(checks))
	all := true
	for _, c := range checks {
		ok := cr.eval(c, resp)
		all = all && ok
		cr.register(c.Name)

		sampleTags := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			sampleTags[k] = v
		}
		sampleTags[metrics.CheckTag] = c.Name

		var value float64
		if ok {
			value = 1
		}
		samples = append(samples, metrics.Sample{
			Metric: cr.checks,
			Time:   now,
			Value:  value,
			Tags:   sampleTags,
		})
	}

	cr.store.AddSamples(metrics.ConnectedSamples{Samples: samples, Tags: tags, Time: now})
	return all
}

func (cr *CheckRunner) eval(c Check, resp *types.Response) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			cr.log.Debugw("check panicked", "check", c.Name, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	if c.Predicate == nil {
		return false
	}
	return c.Predicate(resp)
}

func (cr *CheckRunner) register(name string) {
	if _, ok := cr.subs.Load(name); ok {
		return
	}
	sub, err := cr.store.Submetric(cr.checks, map[string]string{metrics.CheckTag: name})
	if err != nil {
		cr.log.Warnw("register check submetric failed", "check", name, "error", err)
		return
	}
	cr.subs.Store(name, sub)
}
