/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrchain/ehrd/common/flogging"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps a grpc.Server bound to a listener, with optional
// (mutual) TLS.
type GRPCServer struct {
	// Listen address for the server specified as hostname:port
	address string
	// Listener for handling network requests
	listener net.Listener
	// GRPC server
	server *grpc.Server
	// Certificate presented by the server for TLS communication
	// stored as an atomic reference
	serverCertificate atomic.Value
	// lock to protect concurrent access to append / remove
	lock *sync.Mutex
	// TLS configuration used by the grpc server
	tls *TLSConfig
}

// NewGRPCServer creates a new implementation of a GRPCServer given a
// listen address
func NewGRPCServer(address string, serverConfig ServerConfig) (*GRPCServer, error) {
	if address == "" {
		return nil, errors.New("missing address parameter")
	}
	// create our listener
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return NewGRPCServerFromListener(lis, serverConfig)
}

// NewGRPCServerFromListener creates a new implementation of a GRPCServer given
// an existing net.Listener instance using default keepalive
func NewGRPCServerFromListener(listener net.Listener, serverConfig ServerConfig) (*GRPCServer, error) {
	grpcServer := &GRPCServer{
		address:  listener.Addr().String(),
		listener: listener,
		lock:     &sync.Mutex{},
	}

	logger := serverConfig.Logger
	if logger == nil {
		logger = flogging.MustGetLogger("comm.grpc.server")
	}

	// set up our server options
	var serverOpts []grpc.ServerOption

	secureConfig := serverConfig.SecOpts
	if secureConfig.UseTLS {
		// both key and cert are required
		if secureConfig.Key == nil || secureConfig.Certificate == nil {
			return nil, errors.New("serverConfig.SecOpts must contain both Key and Certificate when UseTLS is true")
		}
		cert, err := tls.X509KeyPair(secureConfig.Certificate, secureConfig.Key)
		if err != nil {
			return nil, err
		}
		grpcServer.serverCertificate.Store(cert)

		// set up our TLS config
		if len(secureConfig.CipherSuites) == 0 {
			secureConfig.CipherSuites = DefaultTLSCipherSuites
		}
		getCert := func(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert := grpcServer.serverCertificate.Load().(tls.Certificate)
			return &cert, nil
		}

		grpcServer.tls = NewTLSConfig(&tls.Config{
			VerifyPeerCertificate:  secureConfig.VerifyCertificate,
			GetCertificate:         getCert,
			SessionTicketsDisabled: true,
			CipherSuites:           secureConfig.CipherSuites,
		})

		if secureConfig.TimeShift > 0 {
			timeShift := secureConfig.TimeShift
			grpcServer.tls.config.Time = func() time.Time {
				return time.Now().Add((-1) * timeShift)
			}
		}
		grpcServer.tls.config.ClientAuth = tls.RequestClientCert
		// check if client authentication is required
		if secureConfig.RequireClientCert {
			// require TLS client auth
			grpcServer.tls.config.ClientAuth = tls.RequireAndVerifyClientCert
			// if we have client root CAs, create a certPool
			if len(secureConfig.ClientRootCAs) > 0 {
				grpcServer.tls.config.ClientCAs = x509.NewCertPool()
				for _, clientRootCA := range secureConfig.ClientRootCAs {
					if err := grpcServer.appendClientRootCA(clientRootCA); err != nil {
						return nil, err
					}
				}
			}
		}

		// create credentials and add to server options
		creds := NewServerTransportCredentials(grpcServer.tls, logger)
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	// set max send and recv msg sizes
	maxSendMsgSize := DefaultMaxSendMsgSize
	if serverConfig.MaxSendMsgSize != 0 {
		maxSendMsgSize = serverConfig.MaxSendMsgSize
	}
	maxRecvMsgSize := DefaultMaxRecvMsgSize
	if serverConfig.MaxRecvMsgSize != 0 {
		maxRecvMsgSize = serverConfig.MaxRecvMsgSize
	}
	serverOpts = append(serverOpts, grpc.MaxSendMsgSize(maxSendMsgSize))
	serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(maxRecvMsgSize))
	// set the keepalive options
	serverOpts = append(serverOpts, serverConfig.KaOpts.ServerKeepaliveOptions()...)
	// set connection timeout
	if serverConfig.ConnectionTimeout <= 0 {
		serverConfig.ConnectionTimeout = DefaultConnectionTimeout
	}
	serverOpts = append(serverOpts, grpc.ConnectionTimeout(serverConfig.ConnectionTimeout))

	unaryInterceptors := []grpc.UnaryServerInterceptor{
		grpc_ctxtags.UnaryServerInterceptor(),
		grpc_zap.UnaryServerInterceptor(logger.Zap()),
		grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
			logger.Errorf("Recovered from panic in RPC handler: %v", p)
			return status.Errorf(codes.Internal, "internal error: %v", p)
		})),
	}
	unaryInterceptors = append(unaryInterceptors, serverConfig.UnaryInterceptors...)
	serverOpts = append(serverOpts, grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(unaryInterceptors...)))

	grpcServer.server = grpc.NewServer(serverOpts...)
	return grpcServer, nil
}

// ServerCertificate returns the tls.Certificate used by the grpc.Server
func (gServer *GRPCServer) ServerCertificate() tls.Certificate {
	return gServer.serverCertificate.Load().(tls.Certificate)
}

// Address returns the listen address for this GRPCServer instance
func (gServer *GRPCServer) Address() string {
	return gServer.address
}

// Listener returns the net.Listener for the GRPCServer instance
func (gServer *GRPCServer) Listener() net.Listener {
	return gServer.listener
}

// Server returns the grpc.Server for the GRPCServer instance
func (gServer *GRPCServer) Server() *grpc.Server {
	return gServer.server
}

// TLSEnabled is a flag indicating whether or not TLS is enabled for the
// GRPCServer instance
func (gServer *GRPCServer) TLSEnabled() bool {
	return gServer.tls != nil
}

// MutualTLSRequired is a flag indicating whether or not client certificates
// are required for this GRPCServer instance
func (gServer *GRPCServer) MutualTLSRequired() bool {
	return gServer.TLSEnabled() &&
		gServer.tls.Config().ClientAuth == tls.RequireAndVerifyClientCert
}

// Start starts the underlying grpc.Server
func (gServer *GRPCServer) Start() error {
	return gServer.server.Serve(gServer.listener)
}

// Stop stops the underlying grpc.Server
func (gServer *GRPCServer) Stop() {
	gServer.server.Stop()
}

// Run implements ifrit.Runner. In-flight calls are allowed to finish on
// shutdown.
func (gServer *GRPCServer) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- gServer.Start() }()
	close(ready)

	select {
	case <-signals:
		gServer.server.GracefulStop()
		return nil
	case err := <-serveErr:
		return err
	}
}

// internal function to add a PEM-encoded clientRootCA
func (gServer *GRPCServer) appendClientRootCA(clientRoot []byte) error {
	certs, err := pemToX509Certs(clientRoot)
	if err != nil {
		return errors.WithMessage(err, "failed to append client root certificate(s)")
	}

	if len(certs) < 1 {
		return errors.New("no client root certificates found")
	}

	for _, cert := range certs {
		gServer.tls.AddClientRootCA(cert)
	}

	return nil
}

// SetClientRootCAs sets the list of authorities used to verify client
// certificates based on a list of PEM-encoded X509 certificate authorities
func (gServer *GRPCServer) SetClientRootCAs(clientRoots [][]byte) error {
	gServer.lock.Lock()
	defer gServer.lock.Unlock()

	certPool := x509.NewCertPool()
	for _, clientRoot := range clientRoots {
		if !certPool.AppendCertsFromPEM(clientRoot) {
			return errors.New("failed to set client root certificate(s)")
		}
	}
	gServer.tls.SetClientCAs(certPool)
	return nil
}
