package config

import (
	"net/url"
	"regexp"
	"strings"
)

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`) //nolint:gochecknoglobals // compiled once

// RedactURL hides the password in a connection string, either a
// postgres:// URL or a keyword/value DSN. Strings without a password are
// returned unchanged.
func RedactURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return dsnPassword.ReplaceAllString(raw, "${1}***")
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, ok := u.User.Password(); !ok {
		return raw
	}

	u.User = url.UserPassword(u.User.Username(), "***")

	return u.String()
}
