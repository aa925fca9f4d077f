/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package grpcmetrics

import (
	"context"
	"strings"
	"time"

	"github.com/ehrchain/ehrd/common/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	requestDurationOpts = metrics.HistogramOpts{
		Namespace:  "grpc",
		Subsystem:  "server",
		Name:       "unary_request_duration",
		Help:       "The time to complete a unary request.",
		LabelNames: []string{"service", "method", "code"},
	}
	requestsReceivedOpts = metrics.CounterOpts{
		Namespace:  "grpc",
		Subsystem:  "server",
		Name:       "unary_requests_received",
		Help:       "The number of unary requests received.",
		LabelNames: []string{"service", "method"},
	}
	requestsCompletedOpts = metrics.CounterOpts{
		Namespace:  "grpc",
		Subsystem:  "server",
		Name:       "unary_requests_completed",
		Help:       "The number of unary requests completed.",
		LabelNames: []string{"service", "method", "code"},
	}
)

type UnaryMetrics struct {
	RequestDuration   metrics.Histogram
	RequestsReceived  metrics.Counter
	RequestsCompleted metrics.Counter
}

func NewUnaryMetrics(p metrics.Provider) *UnaryMetrics {
	return &UnaryMetrics{
		RequestDuration:   p.NewHistogram(requestDurationOpts),
		RequestsReceived:  p.NewCounter(requestsReceivedOpts),
		RequestsCompleted: p.NewCounter(requestsCompletedOpts),
	}
}

func UnaryServerInterceptor(um *UnaryMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := serviceMethod(info.FullMethod)
		um.RequestsReceived.With("service", service, "method", method).Add(1)

		startTime := time.Now()
		resp, err := handler(ctx, req)
		st, _ := status.FromError(err)
		duration := time.Since(startTime)

		um.RequestDuration.With(
			"service", service, "method", method, "code", st.Code().String(),
		).Observe(duration.Seconds())
		um.RequestsCompleted.With("service", service, "method", method, "code", st.Code().String()).Add(1)

		return resp, err
	}
}

func serviceMethod(fullMethod string) (service, method string) {
	normalizedMethod := strings.Replace(fullMethod, ".", "_", -1)
	parts := strings.SplitN(normalizedMethod, "/", -1)
	if len(parts) != 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}
