package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/urbilink/internal/protocol"
)

var (
	ErrInvalidTimeout      = errors.New("transport: timeout must not be negative")
	ErrTLSRequired         = errors.New("transport: mutual tls requires tls")
	ErrTLSCAFileRequired   = errors.New("transport: tls ca file required")
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
	ErrEmptyAddress        = errors.New("transport: address required")
)

// TLSConfig selects server verification and the optional client
// certificate.
type TLSConfig struct {
	Enabled            bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
	Mutual             bool
}

// Config defines connection setup and write limits.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// MaxSendBytes caps a single flush; CanSend reports false above it.
	// Zero means unlimited.
	MaxSendBytes int
	TLS          TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		MaxSendBytes:     1 << 20,
	}
}

func (c Config) Validate() error {
	if c.ConnectTimeout < 0 || c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.MaxSendBytes < 0 {
		return fmt.Errorf("transport: max send bytes %d", c.MaxSendBytes)
	}
	if c.TLS.Mutual && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.CAFile) == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.TLS.Mutual {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// NormalizeAddress appends the default URBI port when addr has none.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ErrEmptyAddress
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(protocol.DefaultPort)), nil
}
