package certmanager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/numtide/appservice-cert-wizard/appcontext"
)

// RunSweepAgent calls RemoveExpired every interval until ctx ends. Failed
// sweeps are retried with exponential backoff capped at interval.
func (c *CertManager) RunSweepAgent(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int, interval time.Duration) {

	logger := c.appContext.Logger.With("process", "sweep_agent", "site", env.WebAppName, "slot", env.SiteSlotName)

	logger.Info("sweep agent started")

	failureBackoff := backoff.NewExponentialBackOff()
	failureBackoff.InitialInterval = interval / 60
	failureBackoff.MaxInterval = interval
	failureBackoff.MaxElapsedTime = 0

	for {

		var sleepDuration time.Duration

		removed, err := c.RemoveExpired(ctx, env, settings, thresholdDays)
		if err != nil {
			logger.With("error", err).Error("while sweeping expired certificates")
			sleepDuration = failureBackoff.NextBackOff()
		} else {
			logger.With("removed", removed).Info("sweep finished")
			failureBackoff.Reset()
			sleepDuration = interval
		}

		logger.With("sleepDuration", sleepDuration).Debug("sleeping")

		select {
		case <-ctx.Done():
			logger.Info("sweep agent stopped")
			return
		case <-time.After(sleepDuration):
		}

	}

}
