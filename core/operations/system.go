/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/common/metrics"
	"github.com/ehrchain/ehrd/common/metrics/disabled"
	"github.com/ehrchain/ehrd/common/metrics/prometheus"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hyperledger/fabric-lib-go/healthz"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var versionGaugeOpts = metrics.GaugeOpts{
	Name:       "ehrd_version",
	Help:       "The active version of ehrd.",
	LabelNames: []string{"version"},
}

type recoveryLogger struct {
	logger *flogging.Logger
}

func (r recoveryLogger) Println(args ...interface{}) {
	r.logger.Error(args...)
}

type Options struct {
	ListenAddress   string
	MetricsProvider string
	Version         string
	CommitSHA       string
	// HealthCheckTimeout bounds a /healthz request. The handler default
	// applies when zero.
	HealthCheckTimeout time.Duration
	// Registry receives the Prometheus collectors. The default registry is
	// used when nil.
	Registry *prom.Registry
}

// System serves the operational endpoints of the node and owns its metrics
// provider.
type System struct {
	metrics.Provider

	logger        *flogging.Logger
	options       Options
	router        *mux.Router
	healthHandler *healthz.HealthHandler
	httpServer    *http.Server
	listener      net.Listener
	versionGauge  metrics.Gauge
}

func NewSystem(o Options) *System {
	system := &System{
		logger:        flogging.MustGetLogger("operations"),
		options:       o,
		router:        mux.NewRouter(),
		healthHandler: healthz.NewHealthHandler(),
	}
	if o.HealthCheckTimeout > 0 {
		system.healthHandler.SetTimeout(o.HealthCheckTimeout)
	}

	system.initializeMetricsProvider()
	system.router.Handle("/healthz", system.healthHandler).Methods(http.MethodGet)
	system.router.Handle("/logspec", NewSpecHandler()).Methods(http.MethodGet, http.MethodPut)
	system.router.Handle("/version", NewVersionInfoHandler(system.logger, o.Version, o.CommitSHA)).Methods(http.MethodGet)

	system.httpServer = &http.Server{
		Handler:      handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{system.logger}), handlers.PrintRecoveryStack(true))(system.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return system
}

func (s *System) initializeMetricsProvider() {
	switch s.options.MetricsProvider {
	case "prometheus":
		var registerer prom.Registerer
		var gatherer prom.Gatherer = prom.DefaultGatherer
		if s.options.Registry != nil {
			registerer, gatherer = s.options.Registry, s.options.Registry
		}
		s.Provider = &prometheus.Provider{Registerer: registerer}
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	default:
		if s.options.MetricsProvider != "disabled" && s.options.MetricsProvider != "" {
			s.logger.Warnf("Unknown provider type: %s; metrics disabled", s.options.MetricsProvider)
		}
		s.Provider = &disabled.Provider{}
	}
	s.versionGauge = s.Provider.NewGauge(versionGaugeOpts)
}

// RegisterChecker adds a component to /healthz.
func (s *System) RegisterChecker(component string, checker healthz.HealthChecker) error {
	return s.healthHandler.RegisterChecker(component, checker)
}

// Start binds the listen address and serves in the background.
func (s *System) Start() error {
	listener, err := net.Listen("tcp", s.options.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "failed listening on %s", s.options.ListenAddress)
	}
	s.listener = listener
	s.versionGauge.With("version", s.options.Version).Set(1)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Operations server failed: %s", err)
		}
	}()
	s.logger.Infof("Operations server listening on %s", listener.Addr())
	return nil
}

func (s *System) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *System) Addr() string {
	if s.listener == nil {
		return s.options.ListenAddress
	}
	return s.listener.Addr().String()
}

// Run implements ifrit.Runner.
func (s *System) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	if err := s.Start(); err != nil {
		return err
	}
	close(ready)
	<-signals
	return s.Stop()
}
