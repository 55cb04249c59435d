package scheduler

import (
	"context"
	"time"

	"github.com/nijaru/yt-script/pool"
	"github.com/sirupsen/logrus"
)

const (
	ProxyHealthJob = "proxy_health"
	StaleRunsJob   = "stale_runs"
)

type ProxyTester interface {
	Len() int
	TestAll(ctx context.Context) []pool.TestResult
}

type StaleRunFailer interface {
	FailStale(ctx context.Context, timeout time.Duration) (int, error)
}

// ProxyHealth checks every proxy so failing ones are benched before a run
// draws them.
func ProxyHealth(proxies ProxyTester, timeout time.Duration) func() {
	logger := logrus.WithField("job", ProxyHealthJob)
	return func() {
		if proxies.Len() == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		healthy := 0
		results := proxies.TestAll(ctx)
		for _, res := range results {
			if res.Success {
				healthy++
			}
		}
		logger.WithFields(logrus.Fields{
			"tested":  len(results),
			"healthy": healthy,
		}).Info("Proxy health check finished")
	}
}

// StaleRuns fails runs left in processing longer than staleAfter, such as
// those orphaned by a restart.
func StaleRuns(runs StaleRunFailer, staleAfter time.Duration) func() {
	logger := logrus.WithField("job", StaleRunsJob)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := runs.FailStale(ctx, staleAfter); err != nil {
			logger.WithError(err).Error("Stale run sweep failed")
		}
	}
}
