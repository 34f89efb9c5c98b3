package wssengine

import (
	"fmt"
	"strings"
)

/*************************************************************************************************/
/* COOKIE                                                                                       */
/*************************************************************************************************/

// Cookie carries the data of a Set-Cookie response header (RFC 6265). Cookies can be queued on a
// connection while it is still handshaking, the connection then writes one Set-Cookie line per
// queued cookie in the handshake response.
type Cookie struct {
	// Cookie name
	Name string
	// Cookie value
	Value string
	// Lifetime in seconds. 0 means no Max-Age attribute.
	MaxAge int
	// Optional Path attribute
	Path string
	// Optional Domain attribute
	Domain string
	// Secure attribute flag
	Secure bool
	// HttpOnly attribute flag
	HttpOnly bool
}

// # Description
//
// Serialize the cookie as the value of a Set-Cookie header.
func (c Cookie) Serialize() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteString("=")
	sb.WriteString(c.Value)
	if c.MaxAge != 0 {
		sb.WriteString(fmt.Sprintf("; Max-Age=%d", c.MaxAge))
	}
	if c.Path != "" {
		sb.WriteString("; Path=")
		sb.WriteString(c.Path)
	}
	if c.Domain != "" {
		sb.WriteString("; Domain=")
		sb.WriteString(c.Domain)
	}
	if c.Secure {
		sb.WriteString("; Secure")
	}
	if c.HttpOnly {
		sb.WriteString("; HttpOnly")
	}
	return sb.String()
}

// # Description
//
// Parse the value of a single Cookie request header into a name to value mapping. Malformed
// pairs without a '=' are skipped.
func ParseCookieHeader(value string) map[string]string {
	cookies := map[string]string{}
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			continue
		}
		cookies[pair[:idx]] = pair[idx+1:]
	}
	return cookies
}
