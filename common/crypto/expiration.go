/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"time"
)

// ExpiresAt returns when the given PEM encoded certificate expires, or a zero
// time.Time in case we cannot determine that
func ExpiresAt(certPEM []byte) time.Time {
	bl, _ := pem.Decode(certPEM)
	if bl == nil {
		// If the identity isn't a PEM block, we make no decisions about the expiration time
		return time.Time{}
	}
	cert, err := x509.ParseCertificate(bl.Bytes)
	if err != nil {
		return time.Time{}
	}
	return cert.NotAfter
}

// WarnIfExpiring invokes warn when the certificate expires within the given
// window of now. Certificates that cannot be parsed are ignored.
func WarnIfExpiring(certPEM []byte, now time.Time, window time.Duration, warn func(format string, args ...interface{})) {
	expiresAt := ExpiresAt(certPEM)
	if expiresAt.IsZero() {
		return
	}
	if expiresAt.Before(now) {
		warn("certificate expired at %s", expiresAt)
		return
	}
	if expiresAt.Sub(now) < window {
		warn("certificate expires in %s (at %s)", expiresAt.Sub(now).Round(time.Minute), expiresAt)
	}
}
