/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ReplicationServiceName is the gRPC service peers expose to each other.
	ReplicationServiceName = "ehr.Replication"
	// DeliverFullMethod is the only method of the replication service.
	DeliverFullMethod = "/ehr.Replication/Deliver"
)

// DeliverHandler processes one serialized replication request and returns
// the serialized response.
type DeliverHandler interface {
	Deliver(ctx context.Context, request []byte) ([]byte, error)
}

var replicationServiceDesc = grpc.ServiceDesc{
	ServiceName: ReplicationServiceName,
	HandlerType: (*DeliverHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ehr/replication",
}

// RegisterDeliverHandler exposes h as the replication service of s.
func RegisterDeliverHandler(s *grpc.Server, h DeliverHandler) {
	s.RegisterService(&replicationServiceDesc, h)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return deliver(ctx, srv.(DeliverHandler), in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DeliverFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return deliver(ctx, srv.(DeliverHandler), req.(*RawMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func deliver(ctx context.Context, h DeliverHandler, in *RawMessage) (interface{}, error) {
	out, err := h.Deliver(ctx, *in)
	if err != nil {
		return nil, err
	}
	resp := RawMessage(out)
	return &resp, nil
}

// Deliver invokes the replication service over conn.
func Deliver(ctx context.Context, conn grpc.ClientConnInterface, request []byte) ([]byte, error) {
	in := RawMessage(request)
	out := new(RawMessage)
	if err := conn.Invoke(ctx, DeliverFullMethod, &in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return *out, nil
}
