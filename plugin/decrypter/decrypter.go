// Package decrypter registers the DECRYPTER implementations: base64 and privatekey.
package decrypter

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/plugin"
)

const (
	Base64     = "base64"
	PrivateKey = "privatekey"
)

func init() {
	plugin.RegisterDecrypter(Base64, func() plugin.Decrypter { return &Base64Decrypter{} })
	plugin.RegisterDecrypter(PrivateKey, func() plugin.Decrypter { return &PrivateKeyDecrypter{} })
}

// unwrap strips ENC(...)
func unwrap(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "ENC(") && strings.HasSuffix(value, ")") {
		return value[4 : len(value)-1]
	}
	return value
}

func decodeBase64(value string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(value)
	}
	return b, nil
}

type Base64Decrypter struct{}

func (d *Base64Decrypter) Init(*configor.Options) error { return nil }

func (d *Base64Decrypter) Decrypt(key, value string) string {
	b, err := decodeBase64(unwrap(value))
	if err != nil {
		logger.Debugf("%s is not base64 encoded, using it as is", key)
		return value
	}
	return strings.TrimSpace(string(b))
}

// PrivateKeyDecrypter decrypts base64 RSA PKCS#1 v1.5 ciphertext with PRIVATE-KEY-FILE.
type PrivateKeyDecrypter struct {
	key *rsa.PrivateKey
}

func (d *PrivateKeyDecrypter) Init(opts *configor.Options) error {
	if alg := opts.GetOrDefault(configor.PrivateKeyAlgorithm); !strings.EqualFold(alg, "RSA") {
		return exception.NewConfigError(configor.PrivateKeyAlgorithm, "unsupported algorithm %s", alg)
	}
	file := opts.Get(configor.PrivateKeyFile)
	if file == "" {
		return exception.NewConfigError(configor.PrivateKeyFile, "PRIVATE-KEY-FILE is required by the privatekey decrypter")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return exception.WrapConfigError(configor.PrivateKeyFile, err, "cannot read %s", file)
	}
	key, err := ParseRSAKey(data)
	if err != nil {
		return exception.WrapConfigError(configor.PrivateKeyFile, err, "invalid key in %s", file)
	}
	d.key = key
	return nil
}

// ParseRSAKey accepts PKCS#1 and PKCS#8 PEM blocks.
func ParseRSAKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%T is not an RSA key", parsed)
	}
	return key, nil
}

func (d *PrivateKeyDecrypter) Decrypt(key, value string) string {
	if d.key == nil {
		return value
	}
	cipherText, err := decodeBase64(unwrap(value))
	if err != nil {
		logger.Debugf("%s is not encrypted, using it as is", key)
		return value
	}
	plain, err := rsa.DecryptPKCS1v15(nil, d.key, cipherText)
	if err != nil {
		logger.Warnf("cannot decrypt %s, using it as is", key)
		return value
	}
	return strings.TrimSpace(string(plain))
}
