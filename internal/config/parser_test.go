package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

func TestDefaultConfig(t *testing.T) {
	var pc parsedConfig
	md, err := toml.Decode(defaultConfigData, &pc)
	if err != nil {
		t.Fatalf("default config not decoded: %v", err)
	}
	c, err := configFromParsed(&pc, &md)
	if err != nil {
		t.Fatalf("default config not parsed: %v", err)
	}
	if c.GetPrimaryDC() != 2 || c.GetTransport() != "intermediate" || !c.GetObfuscate() {
		t.Errorf("unexpected defaults: dc %d, transport %s", c.GetPrimaryDC(), c.GetTransport())
	}
	if c.GetSession() != "file:mtcore.session" {
		t.Errorf("unexpected session %s", c.GetSession())
	}
	want := Retry{MaxRetries: 5, Delay: 2 * time.Second, Reconnect: 5, HandshakeAttempts: 3, FloodThreshold: time.Minute}
	if c.GetRetry() != want {
		t.Errorf("retry defaults %+v", c.GetRetry())
	}
	k := c.GetKeepalive()
	if k.Ping != time.Minute || k.PingDisconnect != 75*time.Second || k.Content != 15*time.Minute {
		t.Errorf("keepalive defaults %+v", k)
	}
	if c.GetTimeouts().Request != time.Minute {
		t.Errorf("request timeout %v", c.GetTimeouts().Request)
	}
	if c.GetLogLevel() != logrus.InfoLevel {
		t.Errorf("log level %v", c.GetLogLevel())
	}
}

func TestOverrides(t *testing.T) {
	c, err := ParseConfig(`
		primary_dc = 4
		transport = "abridged"
		[retry]
		max_retries = 3
		handshake_attempts = 7
		[keepalive]
		ping = "20s"
	`)
	if err != nil {
		t.Fatalf("config not parsed: %v", err)
	}
	if c.GetPrimaryDC() != 4 || c.GetTransport() != "abridged" {
		t.Errorf("overrides ignored")
	}
	r := c.GetRetry()
	if r.MaxRetries != 3 || r.Delay != 2*time.Second || r.HandshakeAttempts != 7 || r.Reconnect != 5 {
		t.Errorf("retry %+v", r)
	}
	k := c.GetKeepalive()
	if k.Ping != 20*time.Second || k.PingDisconnect != 75*time.Second {
		t.Errorf("keepalive %+v", k)
	}
}

func TestDCOverrides(t *testing.T) {
	c, err := ParseConfig(`
		[dcs]
		2 = "10.0.0.2:8443"
		[dcs.4]
		host = "10.0.0.4"
		ipv6 = "fd00::4"
	`)
	if err != nil {
		t.Fatalf("dc config not parsed: %v", err)
	}
	table := c.GetDCTable()
	dc2, err := table.Lookup(2)
	if err != nil {
		t.Fatal(err)
	}
	if dc2.Addr() != "10.0.0.2:8443" {
		t.Errorf("dc2 is %s", dc2.Addr())
	}
	dc4, err := table.Lookup(4)
	if err != nil {
		t.Fatal(err)
	}
	if dc4.Addr() != "10.0.0.4:443" || dc4.IPv6 != "fd00::4" {
		t.Errorf("dc4 is %s", dc4)
	}
	if _, err := table.Lookup(1); err != nil {
		t.Errorf("production dc1 lost: %v", err)
	}
}

func TestBadConfigs(t *testing.T) {
	for name, data := range map[string]string{
		"transport":  `transport = "websocket"`,
		"dc id":      "[dcs]\nfoo = \"1.2.3.4:443\"",
		"dc type":    "[dcs]\n2 = 5",
		"dc port":    "[dcs]\n2 = \"1.2.3.4\"",
		"duration":   "[retry]\ndelay = \"soon\"",
		"retries":    "[retry]\nmax_retries = 0",
		"handshakes": "[retry]\nhandshake_attempts = 0",
		"ping":       "[keepalive]\nping = \"60s\"\nping_disconnect = \"10s\"",
		"socks pair": "socks5 = \"127.0.0.1:9050\"\nsocks5_user = \"u\"",
		"secret":     `secret = "dd000102030405060708090a0b0c0d0e0f"`,
		"mtproxy":    `mtproxy = "proxy:443"`,
		"log level":  `log_level = "loud"`,
	} {
		if _, err := ParseConfig(data); err == nil {
			t.Errorf("%s: bad config accepted", name)
		}
	}
}

func TestProxySettings(t *testing.T) {
	c, err := ParseConfig(`
		socks5 = "127.0.0.1:9050"
		socks5_user = "user"
		socks5_pass = "pass"
		mtproxy = "proxy.example.com:443"
		secret = "dd000102030405060708090a0b0c0d0e0f"
	`)
	if err != nil {
		t.Fatalf("proxy config not parsed: %v", err)
	}
	s := c.GetSocks5()
	if s == nil || s.Url != "127.0.0.1:9050" || *s.User != "user" || *s.Pass != "pass" {
		t.Errorf("socks5 %+v", s)
	}
	addr, secret := c.GetMTProxy()
	if addr == nil || *addr != "proxy.example.com:443" || secret == nil {
		t.Errorf("mtproxy not configured")
	}
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mtcore.toml")
	data := "api_id = 17\napi_hash = \"abc\"\nsession = \"memory:\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("config not read: %v", err)
	}
	if c.GetAPIID() != 17 || c.GetAPIHash() != "abc" || c.GetSession() != "memory:" {
		t.Errorf("file values ignored")
	}
	if _, err := c.GetPublicKeys(); err == nil {
		t.Errorf("missing public keys not reported")
	}
}
