package kafka

import (
	"crypto/tls"

	"github.com/IBM/sarama"
	"github.com/lovoo/goka"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// A Security holds optional broker TLS and SASL/PLAIN settings.
//
// The zero value means plaintext without authentication.
type Security struct {
	TLSConfig *tls.Config
	User      string
	Pass      string
}

// KgoOpts returns the client options for the settings.
func (s Security) KgoOpts() []kgo.Opt {
	var opts []kgo.Opt
	if s.TLSConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(s.TLSConfig))
	}
	if s.User != "" {
		auth := plain.Auth{User: s.User, Pass: s.Pass}
		opts = append(opts, kgo.SASL(auth.AsMechanism()))
	}
	return opts
}

// ApplyGoka installs the settings into the goka global config. It must be
// called before any goka processor or view is created.
func (s Security) ApplyGoka() {
	if s.TLSConfig == nil && s.User == "" {
		return
	}

	cfg := goka.DefaultConfig()
	if s.TLSConfig != nil {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = s.TLSConfig
	}
	if s.User != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = s.User
		cfg.Net.SASL.Password = s.Pass
	}
	goka.ReplaceGlobalConfig(cfg)
}
