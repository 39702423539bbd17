package lockdown

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"idevicekit/internal/ioserr"
)

const hostKeyBits = 2048

// makeCertsAndKey produces a (host certificate, host private key, device
// certificate) triple from a device public key, the one piece of crypto
// work full pairing needs (spec.md §4.5 step 3, §1 "TLS certificate
// generation details beyond..."). Certificate generation itself is scoped
// out of the spec's core; this is the minimal concrete implementation that
// satisfies the contract using stdlib crypto/x509 — there is no ecosystem
// certificate-authoring library anywhere in the retrieved examples.
func makeCertsAndKey(devicePublicKeyPEM []byte) (hostCertPEM, hostKeyPEM, deviceCertPEM []byte, err error) {
	devicePub, err := parsePublicKeyPEM(devicePublicKeyPEM)
	if err != nil {
		return nil, nil, nil, ioserr.Wrapf(ioserr.ErrPairing, "parse device public key: %v", err)
	}

	hostKey, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, nil, nil, ioserr.Wrapf(ioserr.ErrPairing, "generate host key: %v", err)
	}

	serial := func() *big.Int {
		n, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
		return n
	}

	hostTemplate := &x509.Certificate{
		SerialNumber:          serial(),
		Subject:               pkix.Name{CommonName: "Root Certification Authority"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	hostCertDER, err := x509.CreateCertificate(rand.Reader, hostTemplate, hostTemplate, &hostKey.PublicKey, hostKey)
	if err != nil {
		return nil, nil, nil, ioserr.Wrapf(ioserr.ErrPairing, "create host certificate: %v", err)
	}

	deviceTemplate := &x509.Certificate{
		SerialNumber: serial(),
		Subject:      pkix.Name{CommonName: "Device Certificate"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	deviceCertDER, err := x509.CreateCertificate(rand.Reader, deviceTemplate, hostTemplate, devicePub, hostKey)
	if err != nil {
		return nil, nil, nil, ioserr.Wrapf(ioserr.ErrPairing, "create device certificate: %v", err)
	}

	hostCertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: hostCertDER})
	deviceCertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: deviceCertDER})
	hostKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(hostKey)})
	return hostCertPEM, hostKeyPEM, deviceCertPEM, nil
}

func parsePublicKeyPEM(data []byte) (any, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return x509.ParsePKCS1PublicKey(data)
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}
