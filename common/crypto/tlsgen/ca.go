/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package tlsgen issues throwaway TLS material for tests and local
// clusters.
package tlsgen

import (
	"crypto"
	"crypto/x509"
)

// CertKeyPair is a PEM encoded certificate with its PEM encoded key.
type CertKeyPair struct {
	Cert []byte
	Key  []byte

	crypto.Signer
	TLSCert *x509.Certificate
}

// CA issues certificates signed by its own self-signed root.
type CA interface {
	// CertBytes returns the PEM encoded root certificate.
	CertBytes() []byte

	// NewClientCertKeyPair issues a certificate usable only for client
	// authentication.
	NewClientCertKeyPair() (*CertKeyPair, error)

	// NewServerCertKeyPair issues a certificate usable on both sides of a
	// connection whose SANs are hosts. IP literals become IP SANs.
	NewServerCertKeyPair(hosts ...string) (*CertKeyPair, error)
}

type ca struct {
	root *CertKeyPair
}

func NewCA() (CA, error) {
	root, err := newCertKeyPair(true, false, nil, nil)
	if err != nil {
		return nil, err
	}
	return &ca{root: root}, nil
}

func (c *ca) CertBytes() []byte {
	return c.root.Cert
}

func (c *ca) NewClientCertKeyPair() (*CertKeyPair, error) {
	return newCertKeyPair(false, false, c.root.Signer, c.root.TLSCert)
}

func (c *ca) NewServerCertKeyPair(hosts ...string) (*CertKeyPair, error) {
	return newCertKeyPair(false, true, c.root.Signer, c.root.TLSCert, hosts...)
}
