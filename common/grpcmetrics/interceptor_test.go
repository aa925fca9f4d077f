/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package grpcmetrics_test

import (
	"context"
	"errors"

	"github.com/ehrchain/ehrd/common/grpcmetrics"
	"github.com/ehrchain/ehrd/common/metrics/prometheus"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ = Describe("UnaryServerInterceptor", func() {
	var (
		registry    *prom.Registry
		interceptor grpc.UnaryServerInterceptor
		info        *grpc.UnaryServerInfo
	)

	BeforeEach(func() {
		registry = prom.NewRegistry()
		um := grpcmetrics.NewUnaryMetrics(&prometheus.Provider{Registerer: registry})
		interceptor = grpcmetrics.UnaryServerInterceptor(um)
		info = &grpc.UnaryServerInfo{FullMethod: "/ehr.Replication/Deliver"}
	})

	family := func(name string) *dto.MetricFamily {
		families, err := registry.Gather()
		Expect(err).NotTo(HaveOccurred())
		for _, f := range families {
			if f.GetName() == name {
				return f
			}
		}
		return nil
	}

	labels := func(m *dto.Metric) map[string]string {
		result := map[string]string{}
		for _, l := range m.GetLabel() {
			result[l.GetName()] = l.GetValue()
		}
		return result
	}

	It("records successful requests", func() {
		resp, err := interceptor(context.Background(), "request", info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return "response", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal("response"))

		received := family("grpc_server_unary_requests_received")
		Expect(received).NotTo(BeNil())
		Expect(received.GetMetric()).To(HaveLen(1))
		Expect(labels(received.GetMetric()[0])).To(Equal(map[string]string{"service": "ehr_Replication", "method": "Deliver"}))
		Expect(received.GetMetric()[0].GetCounter().GetValue()).To(Equal(1.0))

		completed := family("grpc_server_unary_requests_completed")
		Expect(labels(completed.GetMetric()[0])).To(HaveKeyWithValue("code", "OK"))

		duration := family("grpc_server_unary_request_duration")
		Expect(duration.GetMetric()[0].GetHistogram().GetSampleCount()).To(Equal(uint64(1)))
	})

	It("records the status code of failures", func() {
		_, err := interceptor(context.Background(), "request", info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.Unavailable, "gone")
		})
		Expect(err).To(HaveOccurred())

		completed := family("grpc_server_unary_requests_completed")
		Expect(labels(completed.GetMetric()[0])).To(HaveKeyWithValue("code", "Unavailable"))
	})

	It("maps plain errors to Unknown", func() {
		_, err := interceptor(context.Background(), "request", info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		})
		Expect(err).To(MatchError("boom"))

		completed := family("grpc_server_unary_requests_completed")
		Expect(labels(completed.GetMetric()[0])).To(HaveKeyWithValue("code", "Unknown"))
	})

	It("labels malformed method names as unknown", func() {
		info.FullMethod = "bogus"
		_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, nil
		})
		Expect(err).NotTo(HaveOccurred())

		received := family("grpc_server_unary_requests_received")
		Expect(labels(received.GetMetric()[0])).To(Equal(map[string]string{"service": "unknown", "method": "unknown"}))
	})
})
