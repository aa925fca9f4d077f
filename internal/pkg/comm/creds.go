/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/ehrchain/ehrd/common/flogging"
	"google.golang.org/grpc/credentials"
)

var (
	ErrClientHandshakeNotImplemented = errors.New("comm: client handshakes are not implemented with server credentials")
	ErrServerHandshakeNotImplemented = errors.New("comm: server handshakes are not implemented with client credentials")
	ErrOverrideHostnameNotSupported  = errors.New("comm: OverrideServerName is not supported")

	commLogger = flogging.MustGetLogger("comm")
	tlsLogger  = flogging.MustGetLogger("comm.tls")
)

// TLSConfig guards the server side tls.Config. Handshakes read a copy, so
// the client roots can be replaced while the server is running.
type TLSConfig struct {
	lock   sync.RWMutex
	config *tls.Config
}

func NewTLSConfig(config *tls.Config) *TLSConfig {
	return &TLSConfig{config: config}
}

// Config returns a copy of the current configuration.
func (t *TLSConfig) Config() tls.Config {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.config == nil {
		return tls.Config{}
	}
	return *t.config.Clone()
}

// AddClientRootCA trusts cert for client authentication.
func (t *TLSConfig) AddClientRootCA(cert *x509.Certificate) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.config.ClientCAs.AddCert(cert)
}

// SetClientCAs replaces the pool used to verify client certificates.
func (t *TLSConfig) SetClientCAs(certPool *x509.CertPool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.config.ClientCAs = certPool
}

func logHandshake(l *flogging.Logger, side string, start time.Time, err error) {
	if err != nil {
		l.Errorf("%s TLS handshake failed after %s with error: %s", side, time.Since(start), err)
		return
	}
	l.Debugf("%s TLS handshake completed in %s", side, time.Since(start))
}

// serverTransportCredentials performs the server side of TLS handshakes
// against the current content of a TLSConfig.
type serverTransportCredentials struct {
	config *TLSConfig
	logger *flogging.Logger
}

// NewServerTransportCredentials returns grpc credentials that never clone
// config, so later changes to it apply to new connections.
func NewServerTransportCredentials(config *TLSConfig, logger *flogging.Logger) credentials.TransportCredentials {
	config.config.NextProtos = []string{"h2"}
	config.config.MinVersion = tls.VersionTLS12
	if logger == nil {
		logger = tlsLogger
	}
	return &serverTransportCredentials{config: config, logger: logger}
}

func (sc *serverTransportCredentials) ClientHandshake(context.Context, string, net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return nil, nil, ErrClientHandshakeNotImplemented
}

func (sc *serverTransportCredentials) ServerHandshake(rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	config := sc.config.Config()
	conn := tls.Server(rawConn, &config)
	start := time.Now()
	err := conn.Handshake()
	logHandshake(sc.logger.With("remote address", conn.RemoteAddr().String()), "Server", start, err)
	if err != nil {
		return nil, nil, err
	}
	return conn, credentials.TLSInfo{State: conn.ConnectionState()}, nil
}

func (sc *serverTransportCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "tls", SecurityVersion: "1.2"}
}

func (sc *serverTransportCredentials) Clone() credentials.TransportCredentials {
	config := sc.config.Config()
	return NewServerTransportCredentials(NewTLSConfig(&config), sc.logger)
}

func (sc *serverTransportCredentials) OverrideServerName(string) error {
	return ErrOverrideHostnameNotSupported
}

// clientTransportCredentials clones its TLS configuration for every
// handshake and logs how long the handshake took.
type clientTransportCredentials struct {
	config *tls.Config
}

func (cc *clientTransportCredentials) ClientHandshake(ctx context.Context, authority string, rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	start := time.Now()
	conn, auth, err := credentials.NewTLS(cc.config.Clone()).ClientHandshake(ctx, authority, rawConn)
	logHandshake(tlsLogger.With("remote address", rawConn.RemoteAddr().String()), "Client", start, err)
	return conn, auth, err
}

func (cc *clientTransportCredentials) ServerHandshake(net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return nil, nil, ErrServerHandshakeNotImplemented
}

func (cc *clientTransportCredentials) Info() credentials.ProtocolInfo {
	return credentials.NewTLS(cc.config.Clone()).Info()
}

func (cc *clientTransportCredentials) Clone() credentials.TransportCredentials {
	return &clientTransportCredentials{config: cc.config.Clone()}
}

func (cc *clientTransportCredentials) OverrideServerName(name string) error {
	cc.config.ServerName = name
	return nil
}
