/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"syscall"
	"time"

	"github.com/ehrchain/ehrd/common/metrics"
	"github.com/ehrchain/ehrd/common/metrics/disabled"
	"github.com/hyperledger/fabric-lib-go/healthz"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/tedsuo/ifrit"
)

type checkerFunc func(context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

var _ = Describe("System", func() {
	var (
		system  *System
		options Options
		client  *http.Client
	)

	BeforeEach(func() {
		options = Options{
			ListenAddress:   "127.0.0.1:0",
			MetricsProvider: "prometheus",
			Version:         "1.2.0",
			CommitSHA:       "abc123",
			Registry:        prom.NewRegistry(),
		}
		client = &http.Client{}
	})

	JustBeforeEach(func() {
		system = NewSystem(options)
		Expect(system.Start()).To(Succeed())
	})

	AfterEach(func() {
		if system != nil {
			system.Stop()
		}
	})

	get := func(path string) (int, string) {
		resp, err := client.Get(fmt.Sprintf("http://%s%s", system.Addr(), path))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(body)
	}

	It("serves health, version and log spec", func() {
		code, _ := get("/healthz")
		Expect(code).To(Equal(http.StatusOK))

		code, body := get("/version")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"Version": "1.2.0", "CommitSHA": "abc123", "GoVersion": "` + runtime.Version() + `"}`))

		code, body = get("/logspec")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"spec"`))
	})

	It("reports registered checkers", func() {
		Expect(system.RegisterChecker("ledger", checkerFunc(func(context.Context) error {
			return errors.New("store closed")
		}))).To(Succeed())
		Expect(system.RegisterChecker("ledger", checkerFunc(func(context.Context) error { return nil }))).To(
			MatchError("'ledger' is already registered"),
		)

		code, body := get("/healthz")
		Expect(code).To(Equal(http.StatusServiceUnavailable))
		var status healthz.HealthStatus
		Expect(json.Unmarshal([]byte(body), &status)).To(Succeed())
		Expect(status.Status).To(Equal(healthz.StatusUnavailable))
		Expect(status.FailedChecks).To(ConsistOf(healthz.FailedCheck{Component: "ledger", Reason: "store closed"}))
	})

	Context("when a checker outlives the health check timeout", func() {
		var release chan struct{}

		BeforeEach(func() {
			options.HealthCheckTimeout = 20 * time.Millisecond
			release = make(chan struct{})
		})

		AfterEach(func() {
			close(release)
		})

		It("answers request timeout", func() {
			Expect(system.RegisterChecker("stuck", checkerFunc(func(context.Context) error {
				<-release
				return nil
			}))).To(Succeed())

			code, _ := get("/healthz")
			Expect(code).To(Equal(http.StatusRequestTimeout))
		})
	})

	It("exposes prometheus metrics", func() {
		counter := system.NewCounter(metrics.CounterOpts{
			Namespace:  "ledger",
			Name:       "blocks_appended",
			Help:       "Blocks appended.",
			LabelNames: []string{"action"},
		})
		counter.With("action", "add_record").Add(2)

		code, body := get("/metrics")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`ehrd_version{version="1.2.0"} 1`))
		Expect(body).To(ContainSubstring(`ledger_blocks_appended{action="add_record"} 2`))
	})

	Context("when metrics are disabled", func() {
		BeforeEach(func() {
			options.MetricsProvider = "disabled"
		})

		It("does not serve /metrics", func() {
			Expect(system.Provider).To(Equal(&disabled.Provider{}))
			code, _ := get("/metrics")
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})

	Context("when run as an ifrit process", func() {
		It("stops on signal", func() {
			Expect(system.Stop()).To(Succeed())
			system = NewSystem(options)

			process := ifrit.Invoke(system)
			code, _ := get("/healthz")
			Expect(code).To(Equal(http.StatusOK))

			process.Signal(syscall.SIGTERM)
			Eventually(process.Wait()).Should(Receive(BeNil()))
			system = nil
		})
	})
})
