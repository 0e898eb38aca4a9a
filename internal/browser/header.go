package browser

import (
	"fmt"
	"net/http"
	"net/url"
)

// HeaderFromPairs converts the name/value list used by the Fetch domain.
func HeaderFromPairs[T any](entries []T, pair func(T) (string, string)) http.Header {
	headers := make(http.Header, len(entries))
	for _, entry := range entries {
		name, value := pair(entry)
		headers.Add(name, value)
	}
	return headers
}

// WithToken returns endpoint with the access token set as its token query
// parameter. An empty token leaves endpoint unchanged.
func WithToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse browser endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("browser endpoint %q must be an absolute URL", endpoint)
	}
	if token == "" {
		return u.String(), nil
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
