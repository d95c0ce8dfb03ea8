// Package metrics turns event bus traffic into Prometheus collectors.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

const namespace = "giveawaybot"

// Gauges are sampled at scrape time.
type Gauges struct {
	ArmedTimers func() int
	Engine      func() engine.Snapshot
}

type Collector struct {
	log logx.Logger

	created        prometheus.Counter
	entries        *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	ended          *prometheus.CounterVec
	winners        prometheus.Counter
	rerolls        prometheus.Counter
	announceFailed prometheus.Counter
	tasks          *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	taskQueueDelay *prometheus.HistogramVec
}

func New(reg prometheus.Registerer, g Gauges, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := promauto.With(reg)
	c := &Collector{log: log.With(logx.String("comp", "metrics"))}

	c.created = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "giveaways_created_total",
		Help:      "giveaways started",
	})
	c.entries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entry_changes_total",
		Help:      "accepted entries and withdrawals",
	}, []string{"op"})
	c.rejections = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entry_rejections_total",
		Help:      "entry and leave attempts refused, by reason",
	}, []string{"op", "reason"})
	c.ended = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "giveaways_ended_total",
		Help:      "giveaways terminated, by whether anyone entered",
	}, []string{"result"})
	c.winners = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "winners_drawn_total",
		Help:      "winners drawn at giveaway end",
	})
	c.rerolls = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rerolls_total",
		Help:      "successful rerolls",
	})
	c.announceFailed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "announce_failures_total",
		Help:      "result announcements that failed to send",
	})
	c.tasks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "runs_total",
		Help:      "task engine outcomes by task kind",
	}, []string{"kind", "result"})
	c.taskDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "task run time including retries",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"kind"})
	c.taskQueueDelay = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "queue_delay_seconds",
		Help:      "time between enqueue and first attempt",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"kind"})

	if g.ArmedTimers != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "armed_timers",
			Help:      "active giveaways with a pending expiry timer",
		}, func() float64 { return float64(g.ArmedTimers()) })
	}
	if g.Engine != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "queue_length",
			Help:      "tasks waiting for a worker",
		}, func() float64 { return float64(g.Engine().QueueLen) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "in_flight",
			Help:      "tasks currently running",
		}, func() float64 { return float64(g.Engine().InFlight) })
	}
	return c
}

// Run consumes bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(512)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe records one event.
func (c *Collector) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.GiveawayCreated:
		c.created.Inc()
	case eventbus.GiveawayEntered:
		c.entries.WithLabelValues("enter").Inc()
	case eventbus.GiveawayLeft:
		c.entries.WithLabelValues("leave").Inc()
	case eventbus.GiveawayEntryRejected:
		if r, ok := ev.Data.(giveaway.EntryRejection); ok {
			c.rejections.WithLabelValues(r.Op, r.Reason).Inc()
		}
	case eventbus.GiveawayEnded:
		if out, ok := ev.Data.(giveaway.Outcome); ok {
			result := "winners"
			if out.NoEntries() {
				result = "no_entries"
			}
			c.ended.WithLabelValues(result).Inc()
			c.winners.Add(float64(len(out.Winners)))
		}
	case eventbus.GiveawayRerolled:
		c.rerolls.Inc()
	case eventbus.GiveawayAnnounceFail:
		c.announceFailed.Inc()
	case eventbus.TaskStarted:
		if te, ok := ev.Data.(engine.TaskEvent); ok {
			c.taskQueueDelay.WithLabelValues(taskKind(te.Name)).Observe(te.QueueDelay.Seconds())
		}
	case eventbus.TaskFinished, eventbus.TaskFailed:
		if te, ok := ev.Data.(engine.TaskEvent); ok {
			kind := taskKind(te.Name)
			result := "ok"
			if ev.Type == eventbus.TaskFailed {
				result = "failed"
			}
			c.tasks.WithLabelValues(kind, result).Inc()
			c.taskDuration.WithLabelValues(kind).Observe(te.Duration.Seconds())
		}
	case eventbus.TaskDropped, eventbus.TaskSkipped:
		if te, ok := ev.Data.(engine.TaskEvent); ok {
			c.tasks.WithLabelValues(taskKind(te.Name), strings.TrimPrefix(ev.Type, "task.")).Inc()
		}
	}
}

// taskKind drops the per-giveaway suffix so labels stay bounded:
// "giveaway.end:<key>" becomes "giveaway.end".
func taskKind(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
