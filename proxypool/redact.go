package proxypool

import (
	"net/url"
	"strings"
)

// RedactAddress hides the password of a proxy address for display and logs.
// Addresses without credentials are returned unchanged.
func RedactAddress(addr string) string {
	if !strings.Contains(addr, "@") {
		return addr
	}
	bare := !strings.Contains(addr, "://")
	raw := addr
	if bare {
		raw = "http://" + addr
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		// 无法解析时整体丢弃凭据部分
		return "xxxxx@" + addr[strings.LastIndex(addr, "@")+1:]
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		u.User = url.User("xxxxx")
	}
	s := u.Redacted()
	if bare {
		s = strings.TrimPrefix(s, "http://")
	}
	return s
}
