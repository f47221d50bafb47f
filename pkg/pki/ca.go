package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/kubestrap/pkg/errdefs"
)

const (
	// Root CA validity: 10 years
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// Leaf certificate validity: 1 year, comfortably covering a dev run
	leafValidity = 365 * 24 * time.Hour
	// Root CA key size
	rootKeySize = 4096
	// Leaf key size
	leafKeySize = 2048

	// CACertFile is the root certificate file name inside the certs dir
	CACertFile = "ca.crt"
	caKeyFile  = "ca.key"
)

// CA is the cluster's single certificate authority. Every component trusts
// one root, mirroring a real cluster's PKI model at single-host scale.
type CA struct {
	dir      string
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	issued   map[string]*Issued
	mu       sync.RWMutex
}

// Issued is one leaf certificate/key pair written to disk.
type Issued struct {
	Name     string
	Cert     *x509.Certificate
	Key      *rsa.PrivateKey
	CertPEM  []byte
	KeyPEM   []byte
	CertPath string
	KeyPath  string

	sanKey string
}

// Profile describes the identity a leaf certificate encodes.
type Profile struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPs          []net.IP

	// Client and Server select the extended key usages.
	Client bool
	Server bool
}

func (p Profile) sanKey() string {
	parts := append([]string(nil), p.DNSNames...)
	for _, ip := range p.IPs {
		parts = append(parts, ip.String())
	}
	sort.Strings(parts)
	return p.CommonName + "|" + p.Organization + "|" + strings.Join(parts, ",")
}

// New creates a CA writing its material into dir.
func New(dir string) *CA {
	return &CA{
		dir:    dir,
		issued: make(map[string]*Issued),
	}
}

// Initialize generates the root key pair and self-signed certificate and
// writes them to disk. A primitive failure here is fatal and never retried.
func (ca *CA) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrCrypto, err, "generating root key")
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrCrypto, err, "generating serial number")
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"kubestrap"},
			CommonName:   "kubestrap-ca",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrCrypto, err, "creating root certificate")
	}

	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrCrypto, err, "parsing root certificate")
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey

	if err := writePEM(ca.CACertPath(), "CERTIFICATE", certDER, 0o644); err != nil {
		return err
	}
	return writePEM(filepath.Join(ca.dir, caKeyFile), "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(rootKey), 0o600)
}

// IsInitialized returns true once the root pair exists.
func (ca *CA) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

// Issue returns a leaf certificate/key pair for name signed by the root and
// writes <name>.crt / <name>.key into the certs dir. Issuing the same
// identity with the same profile again returns the cached pair; the root is
// never regenerated mid-run.
func (ca *CA) Issue(name string, profile Profile) (*Issued, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, errdefs.Wrap(errdefs.ErrCrypto, "CA not initialized")
	}

	key := profile.sanKey()
	if existing, ok := ca.issued[name]; ok && existing.sanKey == key {
		return existing, nil
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrCrypto, err, "generating key for %s", name)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrCrypto, err, "generating serial number for %s", name)
	}

	var extUsages []x509.ExtKeyUsage
	if profile.Client {
		extUsages = append(extUsages, x509.ExtKeyUsageClientAuth)
	}
	if profile.Server {
		extUsages = append(extUsages, x509.ExtKeyUsageServerAuth)
	}

	cn := profile.CommonName
	if cn == "" {
		cn = name
	}
	var orgs []string
	if profile.Organization != "" {
		orgs = []string{profile.Organization}
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: orgs,
			CommonName:   cn,
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: extUsages,
		DNSNames:    profile.DNSNames,
		IPAddresses: profile.IPs,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &leafKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrCrypto, err, "creating certificate for %s", name)
	}

	leafCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrCrypto, err, "parsing certificate for %s", name)
	}

	issued := &Issued{
		Name:     name,
		Cert:     leafCert,
		Key:      leafKey,
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(leafKey)}),
		CertPath: filepath.Join(ca.dir, name+".crt"),
		KeyPath:  filepath.Join(ca.dir, name+".key"),
		sanKey:   key,
	}

	if err := writeFile(issued.CertPath, issued.CertPEM, 0o644); err != nil {
		return nil, err
	}
	if err := writeFile(issued.KeyPath, issued.KeyPEM, 0o600); err != nil {
		return nil, err
	}

	ca.issued[name] = issued
	return issued, nil
}

// Verify checks that cert chains to the root.
func (ca *CA) Verify(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return errdefs.Wrap(errdefs.ErrCrypto, "CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return errdefs.WrapErr(errdefs.ErrCrypto, err, "certificate verification for %s", cert.Subject.CommonName)
	}
	return nil
}

// RootCertPEM returns the root certificate PEM-encoded.
func (ca *CA) RootCertPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.rootCert.Raw})
}

// CACertPath is the on-disk root certificate location.
func (ca *CA) CACertPath() string { return filepath.Join(ca.dir, CACertFile) }

// CAKeyPath is the on-disk root key location, needed by the controller
// manager for cluster certificate signing.
func (ca *CA) CAKeyPath() string { return filepath.Join(ca.dir, caKeyFile) }

// IssuedFor returns the cached pair for name, if any.
func (ca *CA) IssuedFor(name string) (*Issued, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	issued, ok := ca.issued[name]
	return issued, ok
}

// ClientTLSConfig builds a TLS config presenting the named identity and
// trusting the root. Used by probes that speak mTLS to a daemon.
func (ca *CA) ClientTLSConfig(name string) (*tls.Config, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	issued, ok := ca.issued[name]
	if !ok {
		return nil, errdefs.Wrap(errdefs.ErrCrypto, "no certificate issued for %s", name)
	}

	cert, err := tls.X509KeyPair(issued.CertPEM, issued.KeyPEM)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrCrypto, err, "loading key pair for %s", name)
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ServiceAccountKeyPair generates the RSA key pair the API server and
// controller manager share for signing service account tokens, written as
// sa.key / sa.pub in the certs dir. An existing pair is reused.
func (ca *CA) ServiceAccountKeyPair() (pubPath, keyPath string, err error) {
	keyPath = filepath.Join(ca.dir, "sa.key")
	pubPath = filepath.Join(ca.dir, "sa.pub")

	if _, err := os.Stat(keyPath); err == nil {
		if _, err := os.Stat(pubPath); err == nil {
			return pubPath, keyPath, nil
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return "", "", errdefs.WrapErr(errdefs.ErrCrypto, err, "generating service account key")
	}

	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return "", "", err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", errdefs.WrapErr(errdefs.ErrCrypto, err, "marshaling service account public key")
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER, 0o644); err != nil {
		return "", "", err
	}

	return pubPath, keyPath, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return writeFile(path, data, mode)
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		if os.IsPermission(err) {
			return errdefs.WrapErr(errdefs.ErrPermission, err, "writing %s", path)
		}
		return errdefs.WrapErr(errdefs.ErrFilesystem, err, "writing %s", path)
	}
	return nil
}
