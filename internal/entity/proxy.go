package entity

import (
	"fmt"
	"time"
)

// ProxyRecord mirrors the `proxies` PostgreSQL table schema. IsActive is
// admin-controlled; IsWorking is derived from observed outcomes only.
type ProxyRecord struct {
	ID       int64
	Address  string
	Port     int
	Protocol string // http, https, socks5
	Username string
	Password string

	IsActive  bool
	IsWorking bool

	SuccessCount     int
	FailCount        int
	ConsecutiveFails int
	AvgResponseMS    float64
	LastChecked      *time.Time
	LastUsed         time.Time

	CreatedAt time.Time
}

// URL renders the proxy in the scheme://[user:pass@]host:port form expected
// by the browser transport.
func (p *ProxyRecord) URL() string {
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Address, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Address, p.Port)
}
