/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"sync"

	cerrors "github.com/ehrchain/ehrd/common/errors"
	"google.golang.org/grpc"
)

// Transport delivers serialized replication requests to peers, keeping one
// connection per address. A connection that fails a call is closed and
// redialed on the next send.
type Transport struct {
	client *GRPCClient

	mutex sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewTransport returns a Transport dialing through client.
func NewTransport(client *GRPCClient) *Transport {
	return &Transport{
		client: client,
		conns:  map[string]*grpc.ClientConn{},
	}
}

// Send delivers request to the peer at address and returns its response.
// Failures are reported as *errors.TransportError.
func (t *Transport) Send(ctx context.Context, address string, request []byte) ([]byte, error) {
	conn, err := t.connection(ctx, address)
	if err != nil {
		return nil, &cerrors.TransportError{Address: address, Err: err}
	}
	resp, err := Deliver(ctx, conn, request)
	if err != nil {
		t.evict(address, conn)
		return nil, &cerrors.TransportError{Address: address, Err: err}
	}
	return resp, nil
}

func (t *Transport) connection(ctx context.Context, address string) (*grpc.ClientConn, error) {
	t.mutex.Lock()
	conn, ok := t.conns[address]
	t.mutex.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := t.client.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if existing, ok := t.conns[address]; ok {
		conn.Close()
		return existing, nil
	}
	t.conns[address] = conn
	commLogger.Debugf("Connected to peer %s", address)
	return conn, nil
}

func (t *Transport) evict(address string, conn *grpc.ClientConn) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.conns[address] == conn {
		delete(t.conns, address)
	}
	conn.Close()
}

// Close closes every cached connection.
func (t *Transport) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for address, conn := range t.conns {
		conn.Close()
		delete(t.conns, address)
	}
}
