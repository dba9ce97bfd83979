package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob is the Pushgateway job name used by run-scheduler
const PushJob = "followmail_scheduler"

var (
	// Registry holds every followmail collector
	Registry = prometheus.NewRegistry()

	FollowupsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followmail_followups_sent_total",
		Help: "Total number of follow-up emails delivered",
	})
	FollowupsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followmail_followups_failed_total",
		Help: "Total number of follow-up send attempts that failed, by failure code",
	}, []string{"code"})
	SchedulerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followmail_scheduler_runs_total",
		Help: "Total number of scheduler runs, by result (ok, partial, error, skipped)",
	}, []string{"result"})
	TestEmails = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followmail_test_emails_total",
		Help: "Total number of relay test emails, by result (ok, failed)",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(FollowupsSent)
	Registry.MustRegister(FollowupsFailed)
	Registry.MustRegister(SchedulerRuns)
	Registry.MustRegister(TestEmails)
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an http.Handler exposing Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway. A blank url is a no-op.
func Push(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	return push.New(url, PushJob).Gatherer(Registry).PushContext(ctx)
}
