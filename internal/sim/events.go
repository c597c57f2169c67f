package sim

import (
	"container/heap"
	"math"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/integrators"
	"github.com/san-kum/biosim/internal/model"
)

type eventState struct {
	sc      *scope
	ev      *model.Event
	decl    int
	targets []slot

	prev    bool
	pending bool
	fired   int
}

// queued is an event instance waiting for its fire time. values holds the
// assignment results captured at trigger time, when requested.
type queued struct {
	fireTime float64
	priority float64
	scope    model.Handle
	decl     int
	seq      uint64
	es       *eventState
	values   []float64
}

// eventQueue orders instances by fire time, then higher priority, then
// declaration order, then insertion order.
type eventQueue []*queued

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	switch {
	case a.fireTime != b.fireTime:
		return a.fireTime < b.fireTime
	case a.priority != b.priority:
		return a.priority > b.priority
	case a.scope != b.scope:
		return a.scope < b.scope
	case a.decl != b.decl:
		return a.decl < b.decl
	default:
		return a.seq < b.seq
	}
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*queued)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// next returns the earliest fire time, or +Inf for an empty queue.
func (q eventQueue) next() float64 {
	if len(q) == 0 {
		return math.Inf(1)
	}
	return q[0].fireTime
}

func (e *Engine) buildEvents() {
	e.events = nil
	for _, sc := range e.scopes {
		for i := range sc.m.Events {
			ev := &sc.m.Events[i]
			es := &eventState{sc: sc, ev: ev, decl: i}
			for _, a := range ev.Assignments {
				es.targets = append(es.targets, sc.slots[a.Variable])
			}
			e.events = append(e.events, es)
		}
	}
}

func (es *eventState) triggered(y dynamo.State, t float64) bool {
	return es.ev.Trigger.EvalBool(env{sc: es.sc, y: y, t: t})
}

// evalAssignments computes the values the event would store, in amounts.
func (es *eventState) evalAssignments(y dynamo.State, t float64) []float64 {
	out := make([]float64, len(es.ev.Assignments))
	for k, a := range es.ev.Assignments {
		v := a.Math.Eval(env{sc: es.sc, y: y, t: t})
		if s := es.targets[k]; s.comp >= 0 {
			v *= y[s.comp]
		}
		out[k] = v
	}
	return out
}

// scanTriggers queues every event whose trigger went from false to true at
// t and records the trigger values as the new prior values.
func (e *Engine) scanTriggers(t float64) {
	y := e.vec.Values()
	for _, es := range e.events {
		cur := es.triggered(y, t)
		if cur && !es.prev && !es.pending {
			e.enqueue(es, y, t)
		}
		es.prev = cur
	}
}

func (e *Engine) enqueue(es *eventState, y dynamo.State, t float64) {
	at := env{sc: es.sc, y: y, t: t}
	delay := 0.0
	if es.ev.Delay != nil {
		delay = es.ev.Delay.Eval(at)
		if math.IsNaN(delay) || delay < 0 {
			delay = 0
		}
	}
	priority := 0.0
	if es.ev.Priority != nil {
		priority = es.ev.Priority.Eval(at)
		if math.IsNaN(priority) {
			priority = 0
		}
	}

	q := &queued{
		fireTime: t + delay,
		priority: priority,
		scope:    es.sc.h,
		decl:     es.decl,
		seq:      e.seq,
		es:       es,
	}
	e.seq++
	if es.ev.UseValuesFromTriggerTime {
		q.values = es.evalAssignments(y, t)
	}
	es.pending = true
	heap.Push(&e.queue, q)
	e.log.Debug("event queued", "run", e.run, "scope", es.sc.m.ID, "event", es.ev.ID, "t", t, "fire_time", q.fireTime)
}

// fire applies all assignments of q at once. NaN values leave their
// target untouched.
func (e *Engine) fire(q *queued, t float64) {
	es := q.es
	y := e.vec.Values()
	values := q.values
	if values == nil {
		values = es.evalAssignments(y, t)
	}
	for k, v := range values {
		if !math.IsNaN(v) {
			y[es.targets[k].idx] = v
		}
	}
	es.pending = false
	es.fired++
	e.result.EventsFired++
	e.log.Debug("event fired", "run", e.run, "scope", es.sc.m.ID, "event", es.ev.ID, "t", t)
	e.rec.EventFired(es.sc.m.ID, es.ev.ID)
}

// processEvents fires due events at t, one round at a time, until a round
// fires nothing or the cascade limit is reached.
func (e *Engine) processEvents(t float64) {
	e.resolveAll(t)
	for round := 0; ; round++ {
		if round >= e.cfg.MaxEventCascade {
			e.log.Warn("event cascade limit reached", "run", e.run, "t", t, "rounds", round)
			return
		}
		e.scanTriggers(t)
		fired := false
		for len(e.queue) > 0 && e.queue.next() <= t {
			q := heap.Pop(&e.queue).(*queued)
			e.fire(q, t)
			e.resolveAll(t)
			fired = true
		}
		if !fired {
			return
		}
	}
}

func (e *Engine) eventsDue(t float64) bool {
	return e.queue.next() <= t
}

// risingEdge reports whether any idle event trigger is true at (t, y)
// while it was false at the last committed point.
func (e *Engine) risingEdge(t float64, y dynamo.State) bool {
	if len(e.events) == 0 {
		return false
	}
	work := y.Clone()
	e.resolveChanged(work, t)
	for _, es := range e.events {
		if !es.pending && !es.prev && es.triggered(work, t) {
			return true
		}
	}
	return false
}

// commitTriggers records trigger values after an accepted step so that
// triggers which became false re-arm.
func (e *Engine) commitTriggers(t float64, y dynamo.State) {
	if len(e.events) == 0 {
		return
	}
	work := y.Clone()
	e.resolveChanged(work, t)
	for _, es := range e.events {
		es.prev = es.triggered(work, t)
	}
}

// eventOccurred commits (t, y), processes events there and writes the
// resulting state back into y.
func (e *Engine) eventOccurred(t float64, y dynamo.State) {
	copy(e.vec.Values(), y)
	e.cur = t
	e.processEvents(t)
	copy(y, e.vec.Values())
}

// triggerHandler crosses zero at the first rising edge of any trigger.
type triggerHandler struct {
	e    *Engine
	sign float64
}

func (h *triggerHandler) G(t float64, y dynamo.State) float64 {
	if h.e.risingEdge(t, y) {
		return -h.sign
	}
	return h.sign
}

func (h *triggerHandler) EventOccurred(t float64, y dynamo.State) integrators.Action {
	h.e.eventOccurred(t, y)
	h.sign = -h.sign
	return integrators.Stop
}

func (h *triggerHandler) StepAccepted(t float64, y dynamo.State) {
	h.e.commitTriggers(t, y)
}

// queueHandler crosses zero when the earliest queued event becomes due.
type queueHandler struct {
	e    *Engine
	sign float64
}

func (h *queueHandler) G(t float64, _ dynamo.State) float64 {
	if h.e.eventsDue(t) {
		return -h.sign
	}
	return h.sign
}

func (h *queueHandler) EventOccurred(t float64, y dynamo.State) integrators.Action {
	h.e.eventOccurred(t, y)
	h.sign = -h.sign
	return integrators.Stop
}
