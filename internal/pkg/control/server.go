/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package control serves front-end requests over a local unix socket.
// Requests are JSON objects {id, action, parameters} answered by
// {id, ok, data}; several may be written on one connection.
package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"sync"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("control")

const (
	DefaultSocketPath = "/tmp/ehr.sock"
	DefaultQueueSize  = 10
)

// Request is a front-end request.
type Request struct {
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
}

// Response answers a Request. Data is null whenever OK is false.
type Response struct {
	ID   int64       `json:"id"`
	OK   bool        `json:"ok"`
	Data interface{} `json:"data"`
}

// Failed returns the response reporting a failed request.
func Failed(id int64) *Response {
	return &Response{ID: id, OK: false, Data: nil}
}

// Handler executes front-end requests.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

type call struct {
	ctx  context.Context
	req  *Request
	resp chan *Response
}

// Server accepts front-end connections on a unix socket and funnels their
// requests through a bounded queue to a single worker, so requests are
// executed one at a time in arrival order.
type Server struct {
	socketPath string
	handler    Handler
	queue      chan *call

	mutex    sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// NewServer creates a Server listening on socketPath once run.
func NewServer(socketPath string, queueSize int, handler Handler) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		queue:      make(chan *call, queueSize),
		conns:      map[net.Conn]struct{}{},
	}
}

// Listen binds the socket, replacing a stale socket file left behind by a
// previous run.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed removing stale socket %s", s.socketPath)
	}
	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "failed listening on %s", s.socketPath)
	}
	s.mutex.Lock()
	s.listener = lis
	s.mutex.Unlock()
	return nil
}

// Addr returns the socket address, once listening.
func (s *Server) Addr() string {
	return s.socketPath
}

// Run implements ifrit.Runner.
func (s *Server) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.work(ctx)
	}()
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.serve(ctx) }()

	logger.Infof("Control socket listening on %s", s.socketPath)
	close(ready)

	var err error
	select {
	case <-signals:
	case err = <-serveErr:
	}
	cancel()
	s.close()
	<-workerDone
	os.Remove(s.socketPath)
	return err
}

func (s *Server) close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "control socket accept failed")
		}
		s.mutex.Lock()
		s.conns[conn] = struct{}{}
		s.mutex.Unlock()
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		req := &Request{}
		if err := decoder.Decode(req); err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Warningf("Malformed control request: %s", err)
				encoder.Encode(Failed(0))
			}
			return
		}

		resp, err := s.submit(ctx, req)
		if err != nil {
			return
		}
		if err := encoder.Encode(resp); err != nil {
			logger.Warningf("Failed writing control response %d: %s", req.ID, err)
			return
		}
	}
}

func (s *Server) submit(ctx context.Context, req *Request) (*Response, error) {
	c := &call{ctx: ctx, req: req, resp: make(chan *Response, 1)}
	select {
	case s.queue <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-c.resp:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.queue:
			c.resp <- s.handle(c)
		}
	}
}

func (s *Server) handle(c *call) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Control request %d (%s) panicked: %v", c.req.ID, c.req.Action, r)
			resp = Failed(c.req.ID)
		}
	}()
	logger.Debugf("Handling control request %d (%s)", c.req.ID, c.req.Action)
	resp = s.handler.Handle(c.ctx, c.req)
	if resp == nil {
		return Failed(c.req.ID)
	}
	resp.ID = c.req.ID
	if !resp.OK {
		resp.Data = nil
	}
	return resp
}
