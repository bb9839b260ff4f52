// Package thumbprint fetches the certificate fingerprints IAM needs to trust
// an OpenID Connect issuer.
package thumbprint

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const dialTimeout = 10 * time.Second

// Chain returns the certificate chain presented by host:port.
// The chain is not verified; only its fingerprints are of interest.
func Chain(host string, port int) ([]*x509.Certificate, error) {
	target := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", target, &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         host,
	})
	if err != nil {
		return nil, fmt.Errorf("error dialing remote host %s: %w", target, err)
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates presented by %s", target)
	}
	return certs, nil
}

// Root returns the last certificate of the chain, which is the root CA.
func Root(host string, port int) (*x509.Certificate, error) {
	certs, err := Chain(host, port)
	if err != nil {
		return nil, err
	}
	return certs[len(certs)-1], nil
}

// SHA1 is the lowercase hex SHA-1 fingerprint IAM expects in an OIDC
// provider thumbprint list.
func SHA1(cert *x509.Certificate) string {
	return fmt.Sprintf("%x", sha1.Sum(cert.Raw)) //nolint:gosec
}

// MD5 is the colon separated uppercase MD5 fingerprint.
func MD5(cert *x509.Certificate) string {
	sum := md5.Sum(cert.Raw) //nolint:gosec
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// ForIssuer returns the root CA thumbprint of an OIDC issuer URL such as
// https://oidc.eks.eu-west-1.amazonaws.com/id/EXAMPLE.
func ForIssuer(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL %q: %w", issuer, err)
	}
	if u.Scheme != "https" || u.Hostname() == "" {
		return "", fmt.Errorf("invalid issuer URL %q: https URL with a host required", issuer)
	}
	port := 443
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", fmt.Errorf("invalid issuer port %q: %w", p, err)
		}
	}
	root, err := Root(u.Hostname(), port)
	if err != nil {
		return "", err
	}
	return SHA1(root), nil
}
