package main

import (
	"context"
	"os"

	"deskledger/billing"
	"deskledger/catalog"
	"deskledger/config"
	"deskledger/database"
	"deskledger/handlers"
	"deskledger/logging"
	"deskledger/metrics"
	"deskledger/notify"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").WithError(err).Fatal("failed to load configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	shutdown, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize tracing")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown failed")
		}
	}()

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
	m := metrics.New(prometheus.NewRegistry())

	svc := billing.NewService(db, billing.Options{
		FallbackRate:   rate,
		Location:       loc,
		InvoiceDueDays: cfg.InvoiceDueDays,
		Sink:           notify.Fanout{notify.NewStore(db), notify.NewLogSink(log)},
		Metrics:        m,
		Logger:         log,
	})
	handlers.SetBilling(svc)

	if _, err := catalog.SeedFile(ctx, svc, cfg.PlanCatalogFile, log); err != nil {
		log.WithError(err).Fatal("failed to seed plan catalog")
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(log), tracing.Middleware())
	handlers.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	log.WithField("addr", cfg.HTTPAddr).Info("deskledger listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
