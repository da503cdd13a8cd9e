package sslconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/logger"
	"golang.org/x/crypto/pkcs12"
)

var sslKeys = []string{
	configor.SslKeystore,
	configor.SslKeystorePassword,
	configor.SslKeyPassword,
	configor.SslKeystoreType,
	configor.SslEnabledProtocols,
	configor.SslCipherSuites,
}

// TwoWay presents a client certificate from SSL-KEYSTORE and verifies the server
// against the system roots.
type TwoWay struct {
	values map[string]string
}

func (c *TwoWay) Init(opts *configor.Options) error {
	c.values = make(map[string]string, len(sslKeys))
	for _, k := range sslKeys {
		c.values[k] = opts.Get(k)
	}
	if file := opts.Get(configor.SslPropertiesFile); file != "" {
		props, err := configor.LoadProperties(file)
		if err != nil {
			return exception.WrapConfigError(configor.SslPropertiesFile, err, "unable to load %s", file)
		}
		logger.Infof("loading ssl configuration file %s", file)
		for _, k := range sslKeys {
			if v := strings.TrimSpace(props[k]); v != "" {
				c.values[k] = opts.Decrypt(k, v)
			}
		}
	}
	for _, k := range []string{configor.SslKeystore, configor.SslKeystorePassword} {
		if c.values[k] == "" {
			return exception.NewConfigError(k, "property %s is required by two-way ssl", k)
		}
	}
	if c.values[configor.SslKeyPassword] == "" {
		c.values[configor.SslKeyPassword] = c.values[configor.SslKeystorePassword]
	}
	if c.values[configor.SslKeystoreType] == "" {
		c.values[configor.SslKeystoreType] = "PKCS12"
	}
	return nil
}

func (c *TwoWay) TLSConfig() (*tls.Config, error) {
	data, err := os.ReadFile(c.values[configor.SslKeystore])
	if err != nil {
		return nil, exception.WrapConfigError(configor.SslKeystore, err, "cannot read keystore")
	}
	var cert tls.Certificate
	switch strings.ToUpper(c.values[configor.SslKeystoreType]) {
	case "PKCS12", "P12", "PFX":
		cert, err = loadPKCS12(data, c.values[configor.SslKeystorePassword], c.values[configor.SslKeyPassword])
	case "PEM":
		cert, err = loadPEM(data, c.values[configor.SslKeyPassword])
	default:
		err = fmt.Errorf("unsupported keystore type %s", c.values[configor.SslKeystoreType])
	}
	if err != nil {
		return nil, exception.WrapConfigError(configor.SslKeystore, err, "unable to load client certificate")
	}
	// 不设 MinVersion, 使用平台默认
	conf := &tls.Config{Certificates: []tls.Certificate{cert}}
	if err := applyLimits(conf, c.values[configor.SslEnabledProtocols], c.values[configor.SslCipherSuites]); err != nil {
		return nil, err
	}
	return conf, nil
}

func loadPKCS12(data []byte, storePassword, keyPassword string) (tls.Certificate, error) {
	key, leaf, err := pkcs12.Decode(data, storePassword)
	if err != nil && keyPassword != storePassword {
		key, leaf, err = pkcs12.Decode(data, keyPassword)
	}
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key, Leaf: leaf}, nil
}

// loadPEM reads certificate blocks and one private key block, decrypting a legacy
// encrypted key with keyPassword.
func loadPEM(data []byte, keyPassword string) (tls.Certificate, error) {
	var certs, keyPEM []byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			certs = append(certs, pem.EncodeToMemory(block)...)
			continue
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") || keyPEM != nil {
			continue
		}
		//nolint:staticcheck
		if x509.IsEncryptedPEMBlock(block) {
			der, err := x509.DecryptPEMBlock(block, []byte(keyPassword))
			if err != nil {
				return tls.Certificate{}, err
			}
			block = &pem.Block{Type: block.Type, Bytes: der}
		}
		keyPEM = pem.EncodeToMemory(block)
	}
	if certs == nil || keyPEM == nil {
		return tls.Certificate{}, errors.New("keystore needs a CERTIFICATE and a PRIVATE KEY block")
	}
	return tls.X509KeyPair(certs, keyPEM)
}
