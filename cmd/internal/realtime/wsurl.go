package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DeriveURL turns the REST base into the realtime endpoint: the scheme is
// upgraded (http->ws, https->wss), the ws path is appended to any API
// prefix, and the token rides along as a query parameter.
func DeriveURL(restBase, wsPath, token string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(restBase), "/")
	if base == "" {
		return "", errors.New("empty base url")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base url missing host: %q", restBase)
	}

	if wsPath == "" {
		wsPath = "/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(wsPath, "/")

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RedactURL hides the token query parameter so connection URIs can be
// logged safely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
