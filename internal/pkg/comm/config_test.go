/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"github.com/ehrchain/ehrd/common/crypto/tlsgen"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

const badPEM = "-----BEGIN CERTIFICATE-----\nYm9ndXM=\n-----END CERTIFICATE-----"

func TestKeepaliveOptions(t *testing.T) {
	t.Parallel()

	// grpc options are closures; only their count and concrete types are
	// observable.
	serverOpts := DefaultKeepaliveOptions.ServerKeepaliveOptions()
	require.Len(t, serverOpts, 2)
	require.IsType(t, grpc.KeepaliveParams(keepalive.ServerParameters{}), serverOpts[0])
	require.IsType(t, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{}), serverOpts[1])

	clientOpts := DefaultKeepaliveOptions.ClientKeepaliveOptions()
	require.Len(t, clientOpts, 1)
	require.IsType(t, grpc.WithKeepaliveParams(keepalive.ClientParameters{}), clientOpts[0])
}

func TestSecureOptionsTLSConfig(t *testing.T) {
	ca1, err := tlsgen.NewCA()
	require.NoError(t, err, "failed to create CA1")
	ca2, err := tlsgen.NewCA()
	require.NoError(t, err, "failed to create CA2")
	ckp, err := ca1.NewClientCertKeyPair()
	require.NoError(t, err, "failed to create client key pair")
	clientCert, err := tls.X509KeyPair(ckp.Cert, ckp.Key)
	require.NoError(t, err, "failed to create client certificate")

	newCertPool := func(cas ...tlsgen.CA) *x509.CertPool {
		cp := x509.NewCertPool()
		for _, ca := range cas {
			ok := cp.AppendCertsFromPEM(ca.CertBytes())
			require.True(t, ok, "failed to add cert to pool")
		}
		return cp
	}

	tests := []struct {
		desc        string
		so          SecureOptions
		tc          *tls.Config
		expectedErr string
	}{
		{desc: "TLSDisabled"},
		{desc: "TLSEnabled", so: SecureOptions{UseTLS: true}, tc: &tls.Config{MinVersion: tls.VersionTLS12}},
		{
			desc: "ServerNameOverride",
			so:   SecureOptions{UseTLS: true, ServerNameOverride: "bob"},
			tc:   &tls.Config{MinVersion: tls.VersionTLS12, ServerName: "bob"},
		},
		{
			desc: "WithServerRootCAs",
			so:   SecureOptions{UseTLS: true, ServerRootCAs: [][]byte{ca1.CertBytes(), ca2.CertBytes()}},
			tc:   &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: newCertPool(ca1, ca2)},
		},
		{
			desc:        "BadServerRootCertificate",
			so:          SecureOptions{UseTLS: true, ServerRootCAs: [][]byte{[]byte(badPEM)}},
			expectedErr: "error adding root certificate",
		},
		{
			desc: "WithRequiredClientKeyPair",
			so:   SecureOptions{UseTLS: true, RequireClientCert: true, Key: ckp.Key, Certificate: ckp.Cert},
			tc:   &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{clientCert}},
		},
		{
			desc:        "MissingClientKey",
			so:          SecureOptions{UseTLS: true, RequireClientCert: true, Certificate: ckp.Cert},
			expectedErr: "both Key and Certificate are required when using mutual TLS",
		},
		{
			desc:        "MissingClientCert",
			so:          SecureOptions{UseTLS: true, RequireClientCert: true, Key: ckp.Key},
			expectedErr: "both Key and Certificate are required when using mutual TLS",
		},
		{
			desc: "WithTimeShift",
			so:   SecureOptions{UseTLS: true, TimeShift: 2 * time.Hour},
			tc:   &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			tc, err := tt.so.TLSConfig()
			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)

			if len(tt.so.ServerRootCAs) != 0 {
				require.NotNil(t, tc.RootCAs)
				require.True(t, tt.tc.RootCAs.Equal(tc.RootCAs))
				tt.tc.RootCAs, tc.RootCAs = nil, nil
			}

			if tt.so.TimeShift != 0 {
				require.NotNil(t, tc.Time)
				require.WithinDuration(t, time.Now().Add(-1*tt.so.TimeShift), tc.Time(), 10*time.Second)
				tc.Time = nil
			}

			require.Equal(t, tt.tc, tc)
		})
	}
}

func TestClientConfigDialOptions(t *testing.T) {
	ca, err := tlsgen.NewCA()
	require.NoError(t, err)
	ckp, err := ca.NewClientCertKeyPair()
	require.NoError(t, err)

	config := ClientConfig{}
	opts, err := config.DialOptions()
	require.NoError(t, err)
	require.NotEmpty(t, opts)

	config.SecOpts = SecureOptions{
		Certificate:       ckp.Cert,
		Key:               ckp.Key,
		UseTLS:            true,
		ServerRootCAs:     [][]byte{ca.CertBytes()},
		RequireClientCert: true,
	}
	opts, err = config.DialOptions()
	require.NoError(t, err)
	require.NotEmpty(t, opts)

	config.SecOpts = SecureOptions{UseTLS: true, ServerRootCAs: [][]byte{[]byte(badPEM)}}
	_, err = config.DialOptions()
	require.ErrorContains(t, err, "error adding root certificate")

	config.SecOpts = SecureOptions{Certificate: ckp.Cert, Key: []byte(badPEM), UseTLS: true, RequireClientCert: true}
	_, err = config.DialOptions()
	require.ErrorContains(t, err, "failed to load client certificate")
}

func TestSplitHostPort(t *testing.T) {
	host, port := SplitHostPort("10.0.0.1:9000", "8081")
	require.Equal(t, "10.0.0.1", host)
	require.Equal(t, "9000", port)

	host, port = SplitHostPort("10.0.0.1", "8081")
	require.Equal(t, "10.0.0.1", host)
	require.Equal(t, "8081", port)
}
