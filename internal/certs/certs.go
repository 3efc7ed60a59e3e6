// Package certs creates the RSA certificates the farm uses for secret-key
// protection and column master keys, and wraps keys with them.
package certs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog"
)

// StoreLocation is the certificate store path prefix column master keys are bound to.
const StoreLocation = "LocalMachine/My"

// ErrNotFound is returned when no certificate matches a thumbprint.
var ErrNotFound = errors.New("certificate not found")

// Provider creates certificates and wraps keys with their public key.
type Provider interface {
	CreateCertificate(ctx context.Context, subject string, years int) (thumbprint string, err error)
	WrapKey(ctx context.Context, path string, key []byte) ([]byte, error)
}

// StorePath returns the store path for thumbprint.
func StorePath(thumbprint string) string {
	return StoreLocation + "/" + strings.ToUpper(thumbprint)
}

// Thumbprint returns the uppercase hex SHA-1 of the DER certificate.
func Thumbprint(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FileStore keeps certificates and private keys as PEM files named by thumbprint.
type FileStore struct {
	dir     string
	logger  zerolog.Logger
	keySize int
	now     func() time.Time
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(logger zerolog.Logger, dir string) *FileStore {
	return &FileStore{
		dir:     dir,
		logger:  logger.With().Str("component", "certs").Logger(),
		keySize: 2048,
		now:     time.Now,
	}
}

func (s *FileStore) CreateCertificate(_ context.Context, subject string, years int) (string, error) {
	if years <= 0 {
		return "", fmt.Errorf("certificate validity must be positive, got %d years", years)
	}
	key, err := rsa.GenerateKey(rand.Reader, s.keySize)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return "", fmt.Errorf("generate serial: %w", err)
	}

	notBefore := s.now().UTC().Add(-5 * time.Minute)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: subject},
		NotBefore:    notBefore,
		NotAfter:     notBefore.AddDate(years, 0, 0),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return "", fmt.Errorf("create certificate: %w", err)
	}

	thumb := Thumbprint(der)
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create certificate dir: %w", err)
	}
	buf := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})...)
	if err := os.WriteFile(s.file(thumb), buf, 0o600); err != nil {
		return "", fmt.Errorf("write certificate: %w", err)
	}

	s.logger.Info().Str("subject", subject).Str("thumbprint", thumb).Int("years", years).Msg("certificate created")
	return thumb, nil
}

// CEKVersion is the first byte of a column encryption key envelope.
const CEKVersion = 0x01

// WrapKey encrypts key under the certificate at path (StoreLocation/THUMBPRINT)
// and returns the column encryption key envelope SQL Server stores as
// ENCRYPTED_VALUE: version, key path and ciphertext lengths, the lowercased
// UTF-16LE key path, the RSA-OAEP ciphertext, then an RSA-SHA256 signature
// over all of it made with the certificate's private key.
//
// The driver resolves path in the machine certificate store, so the PEM
// file written by CreateCertificate must be imported there on every node
// that reads the encrypted columns.
func (s *FileStore) WrapKey(_ context.Context, path string, key []byte) ([]byte, error) {
	thumb := path[strings.LastIndexByte(path, '/')+1:]
	cert, priv, err := s.loadPair(thumb)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate %s does not hold an RSA key", path)
	}
	ciphertext, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}

	keyPath := utf16LE(strings.ToLower(path))
	env := make([]byte, 0, 5+len(keyPath)+len(ciphertext)+pub.Size())
	env = append(env, CEKVersion)
	env = binary.LittleEndian.AppendUint16(env, uint16(len(keyPath)))
	env = binary.LittleEndian.AppendUint16(env, uint16(len(ciphertext)))
	env = append(env, keyPath...)
	env = append(env, ciphertext...)

	digest := sha256.Sum256(env)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign key envelope: %w", err)
	}
	return append(env, sig...), nil
}

func utf16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2*len(units))
	for _, u := range units {
		out = binary.LittleEndian.AppendUint16(out, u)
	}
	return out
}

func (s *FileStore) file(thumb string) string {
	return filepath.Join(s.dir, strings.ToUpper(thumb)+".pem")
}

// loadPair reads the certificate and private key stored for thumb.
func (s *FileStore) loadPair(thumb string) (*x509.Certificate, *rsa.PrivateKey, error) {
	if thumb == "" {
		return nil, nil, fmt.Errorf("%w: empty thumbprint", ErrNotFound)
	}
	raw, err := os.ReadFile(s.file(thumb))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, thumb)
		}
		return nil, nil, fmt.Errorf("read certificate %s: %w", thumb, err)
	}
	var cert *x509.Certificate
	var priv *rsa.PrivateKey
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			if cert, err = x509.ParseCertificate(block.Bytes); err != nil {
				return nil, nil, fmt.Errorf("parse certificate %s: %w", thumb, err)
			}
		case "RSA PRIVATE KEY":
			if priv, err = x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
				return nil, nil, fmt.Errorf("parse private key %s: %w", thumb, err)
			}
		}
	}
	if cert == nil {
		return nil, nil, fmt.Errorf("%w: %s holds no certificate", ErrNotFound, thumb)
	}
	if priv == nil {
		return nil, nil, fmt.Errorf("%w: %s holds no private key", ErrNotFound, thumb)
	}
	return cert, priv, nil
}

// HexLiteral formats b as a T-SQL binary literal.
func HexLiteral(b []byte) string {
	return "0x" + strings.ToUpper(hex.EncodeToString(b))
}
