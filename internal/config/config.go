package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/tgcrypt"
)

var defaultConfigData = `
api_id = 0
api_hash = ""
primary_dc = 2
transport = "intermediate"
obfuscate = true
allow_ipv6 = false
session = "file:mtcore.session"
#public_keys = "telegram.pem"
log_level = "info"
#socks5 = "127.0.0.1:9050"
#mtproxy = "proxy.example.com:443"
#secret = "dd000102030405060708090a0b0c0d0e0f"

[timeouts]
dial = "10s"
handshake = "30s"
request = "60s"

[retry]
max_retries = 5
delay = "2s"
reconnect = 5
handshake_attempts = 3
flood_threshold = "60s"

[keepalive]
ping = "60s"
ping_disconnect = "75s"
content = "15m"

#[dcs]
#2 = "149.154.167.51:443"
#[dcs.4]
#host = "149.154.167.91"
#ipv6 = "2001:67c:04e8:f004::a"
#port = 443
`

type parsedConfig struct {
	Api_id      *int
	Api_hash    *string
	Primary_dc  *int
	Transport   *string
	Obfuscate   *bool
	Allow_ipv6  *bool
	Session     *string
	Public_keys *string
	Log_level   *string
	Socks5      *string
	Socks5_user *string
	Socks5_pass *string
	Mtproxy     *string
	Secret      *string
	Timeouts    *parsedTimeouts
	Retry       *parsedRetry
	Keepalive   *parsedKeepalive
	Dcs         *map[string]toml.Primitive
}

type parsedTimeouts struct {
	Dial      *string
	Handshake *string
	Request   *string
}

type parsedRetry struct {
	Max_retries        *int
	Delay              *string
	Reconnect          *int
	Handshake_attempts *int
	Flood_threshold    *string
}

type parsedKeepalive struct {
	Ping            *string
	Ping_disconnect *string
	Content         *string
}

// parsedDCPrimitive is the table form of a dcs entry.
type parsedDCPrimitive struct {
	Host string
	Ipv6 *string
	Port *int
}

type Socks5Data struct {
	Url  string
	User *string
	Pass *string
}

type Timeouts struct {
	Dial      time.Duration
	Handshake time.Duration
	Request   time.Duration
}

type Retry struct {
	MaxRetries int
	Delay      time.Duration
	Reconnect  int
	// HandshakeAttempts bounds the key exchange restarts of one connection,
	// independent of Reconnect.
	HandshakeAttempts int
	FloodThreshold    time.Duration
}

type Keepalive struct {
	Ping           time.Duration
	PingDisconnect time.Duration
	Content        time.Duration
}

type Config struct {
	apiID      int
	apiHash    string
	primaryDC  int
	protocol   string
	obfuscate  bool
	allowIPv6  bool
	session    string
	publicKeys *string
	logLevel   logrus.Level
	socks5     *Socks5Data
	mtproxy    *string
	secret     *tgcrypt.Secret
	timeouts   Timeouts
	retry      Retry
	keepalive  Keepalive
	dcs        map[int][]dcs.DC
}

func (c *Config) GetAPIID() int {
	return c.apiID
}

func (c *Config) GetAPIHash() string {
	return c.apiHash
}

func (c *Config) GetPrimaryDC() int {
	return c.primaryDC
}

// GetTransport returns the framing name (abridged, intermediate, padded,
// full).
func (c *Config) GetTransport() string {
	return c.protocol
}

func (c *Config) GetObfuscate() bool {
	return c.obfuscate
}

func (c *Config) GetAllowIPv6() bool {
	return c.allowIPv6
}

// GetSession returns the storage location, "file:path", "badger:dir" or
// "memory:".
func (c *Config) GetSession() string {
	return c.session
}

func (c *Config) GetLogLevel() logrus.Level {
	return c.logLevel
}

func (c *Config) GetSocks5() *Socks5Data {
	return c.socks5
}

// GetMTProxy returns the proxy address and its secret, nil when connecting
// directly.
func (c *Config) GetMTProxy() (*string, *tgcrypt.Secret) {
	return c.mtproxy, c.secret
}

func (c *Config) GetTimeouts() Timeouts {
	return c.timeouts
}

func (c *Config) GetRetry() Retry {
	return c.retry
}

func (c *Config) GetKeepalive() Keepalive {
	return c.keepalive
}

// GetDCTable returns the production table with the configured overrides
// applied.
func (c *Config) GetDCTable() *dcs.Table {
	t := dcs.Production()
	for id, list := range c.dcs {
		t.Set(id, list...)
	}
	return t
}

// GetPublicKeys loads the RSA keys used in the handshake.
func (c *Config) GetPublicKeys() ([]tgcrypt.PublicKey, error) {
	if c.publicKeys == nil {
		return nil, fmt.Errorf("public_keys not configured")
	}
	data, err := os.ReadFile(*c.publicKeys)
	if err != nil {
		return nil, err
	}
	return tgcrypt.ParsePublicKeys(data)
}
