/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// GRPCClient creates connections that share one dial configuration.
type GRPCClient struct {
	// Options for setting up new connections
	dialOpts []grpc.DialOption
	// Duration for which to block while established a new connection
	timeout time.Duration
}

// NewGRPCClient creates a new implementation of GRPCClient given an address
// and client configuration
func NewGRPCClient(config ClientConfig) (*GRPCClient, error) {
	dialOpts, err := config.DialOptions()
	if err != nil {
		return nil, err
	}
	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	return &GRPCClient{
		dialOpts: dialOpts,
		timeout:  timeout,
	}, nil
}

// NewConnection returns a grpc.ClientConn for the target address
func (client *GRPCClient) NewConnection(address string) (*grpc.ClientConn, error) {
	return client.Dial(context.Background(), address)
}

// Dial connects to address, giving up when ctx is done or the dial timeout
// elapses, whichever comes first.
func (client *GRPCClient) Dial(ctx context.Context, address string) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, address, client.dialOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create new connection")
	}
	return conn, nil
}
