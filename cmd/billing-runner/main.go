package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskledger/billing"
	"deskledger/config"
	"deskledger/database"
	"deskledger/logging"
	"deskledger/notify"
	"deskledger/runlock"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	runOnce    = flag.Bool("run-once", false, "Run billing once and exit")
	periodFlag = flag.String("period", "", "Month to bill (YYYY-MM). If empty, bills the previous month. Only used with --run-once")
	lockTTL    = flag.Duration("lock-ttl", 10*time.Minute, "Lifetime of the per-client billing lease in Redis")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").WithError(err).Fatal("failed to load configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.WithError(err).Fatal("invalid timezone")
	}
	rate, err := cfg.OverageRate()
	if err != nil {
		log.WithError(err).Fatal("invalid overage rate")
	}
	opts := billing.Options{
		FallbackRate:   rate,
		Location:       loc,
		InvoiceDueDays: cfg.InvoiceDueDays,
		Sink:           notify.Fanout{notify.NewStore(db), notify.NewLogSink(log)},
		Logger:         log,
	}

	if cfg.RedisURL != "" {
		client, err := runlock.Dial(context.Background(), cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer client.Close()
		opts.Locker = runlock.New(client, *lockTTL)
		log.Info("billing leases enabled")
	}

	r := &runner{
		svc:        billing.NewService(db, opts),
		log:        log,
		resetHours: cfg.BillingResetHrs,
	}

	if *runOnce {
		period := billing.PeriodOf(time.Now(), loc).Previous()
		if *periodFlag != "" {
			period, err = billing.ParsePeriod(*periodFlag)
			if err != nil {
				log.WithError(err).Fatal("invalid period")
			}
		}
		if err := r.cycle(context.Background(), period); err != nil {
			log.WithError(err).Fatal("billing run failed")
		}
		log.Info("billing run completed")
		return
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.BillingSchedule, func() {
		period := billing.PeriodOf(time.Now(), loc).Previous()
		if err := r.cycle(context.Background(), period); err != nil {
			log.WithError(err).WithField("period", period.String()).Error("scheduled billing run failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to schedule billing run")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule": cfg.BillingSchedule,
		"timezone": loc.String(),
	}).Info("billing runner started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down gracefully")

	stopped := c.Stop()
	<-stopped.Done()
	log.Info("billing runner stopped")
}

type runner struct {
	svc        *billing.Service
	log        *logrus.Logger
	resetHours bool
}

// cycle invoices every client for period and then, when enabled, restores the
// included hours of every active subscription for the new month.
func (r *runner) cycle(ctx context.Context, period billing.Period) error {
	r.log.WithField("period", period.String()).Info("starting billing run")
	summary, billErr := r.svc.GenerateAll(ctx, period)
	for clientID, failure := range summary.Failed {
		r.log.WithError(failure).WithField("client_id", clientID).Error("client billing failed")
	}

	if !r.resetHours {
		return billErr
	}
	n, err := r.svc.RenewAll(ctx)
	if err != nil {
		return errors.Join(billErr, err)
	}
	r.log.WithField("subscriptions", n).Info("subscription hours renewed")
	return billErr
}
