package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// buildTLSConfig turns the PEM material into the tls.Config shared by every
// Listener of a Server. A nil TLSConfig disables TLS.
func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	cert, err := tls.X509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, configError("tls", fmt.Sprintf("tls certificate or private key is invalid: %v", err))
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if len(cfg.CA) > 0 {
		clientCAs := x509.NewCertPool()
		for i, pem := range cfg.CA {
			if !clientCAs.AppendCertsFromPEM(pem) {
				return nil, configError("tls", fmt.Sprintf("tls ca certificate %d is not valid PEM data", i))
			}
		}
		tlsConfig.ClientCAs = clientCAs
	}

	switch {
	case cfg.RequestCert && cfg.RejectUnauthorized:
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	case cfg.RequestCert:
		tlsConfig.ClientAuth = tls.RequestClientCert
	default:
		tlsConfig.ClientAuth = tls.NoClientCert
	}

	return tlsConfig, nil
}
