package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/transport"
)

// ReadConfig reads path on top of the defaults.
func ReadConfig(path string) (*Config, error) {
	c := defaultParsed()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, err
	}
	return configFromParsed(c, &md)
}

func ParseConfig(data string) (*Config, error) {
	c := defaultParsed()
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, err
	}
	return configFromParsed(c, &md)
}

func DefaultConfig() *Config {
	result, err := ParseConfig("")
	if err != nil {
		panic(err)
	}
	return result
}

func defaultParsed() *parsedConfig {
	var c parsedConfig
	if _, err := toml.Decode(defaultConfigData, &c); err != nil {
		panic(err)
	}
	return &c
}

func configFromParsed(parsed *parsedConfig, md *toml.MetaData) (*Config, error) {
	c := &Config{
		apiID:      *parsed.Api_id,
		apiHash:    *parsed.Api_hash,
		primaryDC:  *parsed.Primary_dc,
		protocol:   *parsed.Transport,
		obfuscate:  *parsed.Obfuscate,
		allowIPv6:  *parsed.Allow_ipv6,
		session:    *parsed.Session,
		publicKeys: parsed.Public_keys,
		mtproxy:    parsed.Mtproxy,
		dcs:        map[int][]dcs.DC{},
	}
	if c.primaryDC <= 0 {
		return nil, fmt.Errorf("primary_dc must be positive")
	}
	if _, err := transport.ProtocolByName(c.protocol); err != nil {
		return nil, err
	}
	level, err := logrus.ParseLevel(*parsed.Log_level)
	if err != nil {
		return nil, err
	}
	c.logLevel = level

	if parsed.Socks5 != nil && *parsed.Socks5 != "" {
		if err := checkSocksValues(parsed.Socks5_user, parsed.Socks5_pass); err != nil {
			return nil, err
		}
		c.socks5 = &Socks5Data{
			Url:  *parsed.Socks5,
			User: parsed.Socks5_user,
			Pass: parsed.Socks5_pass,
		}
	}
	if parsed.Secret != nil {
		if parsed.Mtproxy == nil {
			return nil, fmt.Errorf("secret given without mtproxy")
		}
		secret, err := tgcrypt.NewSecretHex(*parsed.Secret)
		if err != nil {
			return nil, err
		}
		c.secret = secret
	} else if parsed.Mtproxy != nil {
		return nil, fmt.Errorf("mtproxy needs a secret")
	}

	if c.timeouts, err = parseTimeouts(parsed.Timeouts); err != nil {
		return nil, err
	}
	if c.retry, err = parseRetry(parsed.Retry); err != nil {
		return nil, err
	}
	if c.keepalive, err = parseKeepalive(parsed.Keepalive); err != nil {
		return nil, err
	}

	if parsed.Dcs != nil {
		for name, data := range *parsed.Dcs {
			id, err := strconv.Atoi(name)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("bad dc id %q", name)
			}
			dc, err := parseDC(md, name, data)
			if err != nil {
				return nil, err
			}
			c.dcs[id] = append(c.dcs[id], dc)
		}
	}
	return c, nil
}

// parseDC accepts either "host:port" or a table with host, ipv6 and port.
func parseDC(md *toml.MetaData, name string, data toml.Primitive) (dcs.DC, error) {
	dtype := md.Type("dcs", name)
	if dtype == "String" {
		var addr string
		if err := md.PrimitiveDecode(data, &addr); err != nil {
			return dcs.DC{}, err
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return dcs.DC{}, fmt.Errorf("dc %s: %w", name, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return dcs.DC{}, fmt.Errorf("dc %s: bad port %q", name, portStr)
		}
		return dcs.DC{Host: host, Port: port}, nil
	} else if dtype == "Hash" {
		var pd parsedDCPrimitive
		if err := md.PrimitiveDecode(data, &pd); err != nil {
			return dcs.DC{}, err
		}
		if pd.Host == "" {
			return dcs.DC{}, fmt.Errorf("dc %s: host is required", name)
		}
		dc := dcs.DC{Host: pd.Host}
		if pd.Ipv6 != nil {
			dc.IPv6 = *pd.Ipv6
		}
		if pd.Port != nil {
			dc.Port = *pd.Port
		}
		return dc, nil
	}
	return dcs.DC{}, fmt.Errorf("unknown type for dc %s: %s", name, dtype)
}

func duration(name string, v *string, def time.Duration) (time.Duration, error) {
	if v == nil {
		return def, nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration", name)
	}
	return d, nil
}

func parseTimeouts(p *parsedTimeouts) (t Timeouts, err error) {
	if p == nil {
		p = &parsedTimeouts{}
	}
	if t.Dial, err = duration("timeouts.dial", p.Dial, 10*time.Second); err != nil {
		return
	}
	if t.Handshake, err = duration("timeouts.handshake", p.Handshake, 30*time.Second); err != nil {
		return
	}
	t.Request, err = duration("timeouts.request", p.Request, 60*time.Second)
	return
}

func parseRetry(p *parsedRetry) (r Retry, err error) {
	if p == nil {
		p = &parsedRetry{}
	}
	r.MaxRetries, r.Reconnect, r.HandshakeAttempts = 5, 5, 3
	if p.Handshake_attempts != nil {
		r.HandshakeAttempts = *p.Handshake_attempts
	}
	if r.HandshakeAttempts < 1 {
		return r, fmt.Errorf("retry.handshake_attempts must be at least 1")
	}
	if p.Max_retries != nil {
		r.MaxRetries = *p.Max_retries
	}
	if p.Reconnect != nil {
		r.Reconnect = *p.Reconnect
	}
	if r.MaxRetries < 1 {
		return r, fmt.Errorf("retry.max_retries must be at least 1")
	}
	if r.Reconnect < 0 {
		return r, fmt.Errorf("retry.reconnect can't be negative")
	}
	if r.Delay, err = duration("retry.delay", p.Delay, 2*time.Second); err != nil {
		return
	}
	r.FloodThreshold, err = duration("retry.flood_threshold", p.Flood_threshold, 60*time.Second)
	return
}

func parseKeepalive(p *parsedKeepalive) (k Keepalive, err error) {
	if p == nil {
		p = &parsedKeepalive{}
	}
	if k.Ping, err = duration("keepalive.ping", p.Ping, 60*time.Second); err != nil {
		return
	}
	if k.PingDisconnect, err = duration("keepalive.ping_disconnect", p.Ping_disconnect, k.Ping*5/4); err != nil {
		return
	}
	if k.Ping > 0 && k.PingDisconnect < k.Ping {
		return k, fmt.Errorf("keepalive.ping_disconnect must not be shorter than keepalive.ping")
	}
	k.Content, err = duration("keepalive.content", p.Content, 15*time.Minute)
	return
}

func checkSocksValues(user *string, pass *string) error {
	if (user == nil && pass != nil) ||
		(user != nil && pass == nil) {
		return fmt.Errorf("both socks5_pass and socks5_user must be specified")
	}
	if (user != nil) && (*user == "") ||
		(pass != nil) && (*pass == "") {
		return fmt.Errorf("socks user or password can't have zero length (https://github.com/golang/go/issues/57285)")
	}
	return nil
}
