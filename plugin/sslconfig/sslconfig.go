// Package sslconfig registers the SSL-CONFIG implementations used for secure schemes.
package sslconfig

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/utils"
)

func init() {
	plugin.RegisterSSLConfig(plugin.SSLTrustAnyone, func() plugin.SSLConfig { return &TrustAnyone{} })
	plugin.RegisterSSLConfig(plugin.SSLTwoWay, func() plugin.SSLConfig { return &TwoWay{} })
}

var protocols = map[string]uint16{
	"TLSV1":   tls.VersionTLS10,
	"TLSV1.0": tls.VersionTLS10,
	"TLSV1.1": tls.VersionTLS11,
	"TLSV1.2": tls.VersionTLS12,
	"TLSV1.3": tls.VersionTLS13,
}

// ParseProtocols returns the version range covering a list like "TLSv1.2,TLSv1.3".
// Zero values mean the platform default.
func ParseProtocols(list string) (min, max uint16, err error) {
	for _, p := range utils.SplitCsv(list) {
		v, ok := protocols[strings.ToUpper(p)]
		if !ok {
			return 0, 0, fmt.Errorf("unknown protocol %s", p)
		}
		if min == 0 || v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, nil
}

// ParseCipherSuites maps IANA cipher suite names to ids.
func ParseCipherSuites(list string) ([]uint16, error) {
	names := utils.SplitCsv(list)
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, cs := range append(tls.CipherSuites(), tls.InsecureCipherSuites()...) {
		known[cs.Name] = cs.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, n := range names {
		id, ok := known[strings.ToUpper(n)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %s", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applyLimits sets protocol and cipher restrictions from values.
func applyLimits(conf *tls.Config, protocolList, cipherList string) error {
	min, max, err := ParseProtocols(protocolList)
	if err != nil {
		return exception.WrapConfigError(configor.SslEnabledProtocols, err, "invalid protocols")
	}
	ciphers, err := ParseCipherSuites(cipherList)
	if err != nil {
		return exception.WrapConfigError(configor.SslCipherSuites, err, "invalid cipher suites")
	}
	if min != 0 {
		logger.Infof("using enabled protocols: %s", protocolList)
		conf.MinVersion, conf.MaxVersion = min, max
	}
	if len(ciphers) > 0 {
		logger.Infof("using cipher suites: %s", cipherList)
		conf.CipherSuites = ciphers
	}
	return nil
}

// TrustAnyone accepts any server certificate.
type TrustAnyone struct {
	protocols string
	ciphers   string
}

func (c *TrustAnyone) Init(opts *configor.Options) error {
	c.protocols = opts.Get(configor.SslEnabledProtocols)
	c.ciphers = opts.Get(configor.SslCipherSuites)
	return nil
}

func (c *TrustAnyone) TLSConfig() (*tls.Config, error) {
	conf := &tls.Config{InsecureSkipVerify: true}
	if err := applyLimits(conf, c.protocols, c.ciphers); err != nil {
		return nil, err
	}
	return conf, nil
}
