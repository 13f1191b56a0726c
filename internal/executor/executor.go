// Package executor drives one contract call through the full pipeline:
// base fee, artifact lookup, method resolution and backend execution.
// The executor owns no state of its own; everything an execution touches
// arrives through its arguments, so concurrent calls are independent.
package executor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/cache"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// Executor runs contract calls on one backend variant behind one
// artifact cache.
type Executor struct {
	backend vm.Backend
	cache   *cache.Cache
	sched   *gas.Schedule
	logger  logrus.FieldLogger

	inFlight atomic.Int64
}

// New creates an executor. The schedule is shared read-only by every
// execution; changing costs means constructing a new executor with a
// bumped schedule version.
func New(backend vm.Backend, c *cache.Cache, sched *gas.Schedule, logger logrus.FieldLogger) *Executor {
	return &Executor{
		backend: backend,
		cache:   c,
		sched:   sched,
		logger:  logger,
	}
}

// Schedule returns the executor's cost schedule.
func (e *Executor) Schedule() *gas.Schedule {
	return e.sched
}

// Execute runs one contract call to its outcome. Every abnormal path
// still produces an outcome: contract faults are charged and classified,
// host faults are surfaced for the caller to halt on. Execute never
// returns nil.
func (e *Executor) Execute(ctx context.Context, code []byte, ectx *vm.Context, view vm.StateView) *vm.Outcome {
	start := time.Now()
	e.inFlight.Inc()
	inFlightGauge.Inc()
	defer func() {
		e.inFlight.Dec()
		inFlightGauge.Dec()
	}()

	counter := gas.NewCounter(ectx.GasLimit)
	outcome := e.execute(ctx, code, ectx, view, counter)

	status := "ok"
	if outcome.Err != nil {
		status = outcome.Err.Kind.String()
		if outcome.Err.IsHostFault() {
			e.logger.WithFields(logrus.Fields{
				"method": ectx.Method,
				"error":  outcome.Err.Error(),
			}).Error("host fault during execution")
		}
	}
	executionsTotal.WithLabelValues(status).Inc()
	executeDuration.Observe(time.Since(start).Seconds())
	gasBurnt.Observe(float64(outcome.GasBurnt))
	return outcome
}

func (e *Executor) execute(ctx context.Context, code []byte, ectx *vm.Context, view vm.StateView, counter *gas.Counter) *vm.Outcome {
	if err := counter.Charge(gas.OpBase, e.sched.BaseFee); err != nil {
		return &vm.Outcome{GasBurnt: counter.Burnt(), Err: vm.NewGasExceeded()}
	}

	art, release, verr := e.cache.Get(ctx, code, e.sched)
	if verr != nil {
		return &vm.Outcome{GasBurnt: counter.Burnt(), Err: verr}
	}
	defer release()

	if err := counter.Charge(gas.OpMethodLookup, e.sched.MethodLookupFee); err != nil {
		return &vm.Outcome{GasBurnt: counter.Burnt(), Err: vm.NewGasExceeded()}
	}
	if !art.HasMethod(ectx.Method) {
		return &vm.Outcome{GasBurnt: counter.Burnt(), Err: vm.NewMethodNotFound(ectx.Method)}
	}

	return e.backend.Run(ctx, art, ectx, view, counter, e.sched)
}

// InFlight returns the number of executions currently running.
func (e *Executor) InFlight() int64 {
	return e.inFlight.Load()
}
