package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLValidationError represents a URL validation failure
type URLValidationError struct {
	Field   string
	Message string
	URL     string
}

func (e URLValidationError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// ValidateURL accepts an absolute http(s) URL with a host. The empty string
// is allowed; required-ness is checked separately.
func ValidateURL(urlString, fieldName string, requireHTTPS bool) error {
	_, err := parseWebURL(urlString, fieldName, requireHTTPS)
	return err
}

// ValidateBaseURL is ValidateURL for service base URLs, which must not carry
// a path, query or fragment since request paths are appended to them.
func ValidateBaseURL(urlString, fieldName string, requireHTTPS bool) error {
	parsed, err := parseWebURL(urlString, fieldName, requireHTTPS)
	if err != nil || parsed == nil {
		return err
	}

	fail := func(msg string) error {
		return URLValidationError{Field: fieldName, Message: msg, URL: urlString}
	}
	switch {
	case parsed.Path != "" && parsed.Path != "/":
		return fail("base URL must not contain a path")
	case parsed.RawQuery != "":
		return fail("base URL must not contain query parameters")
	case parsed.Fragment != "":
		return fail("base URL must not contain a fragment")
	}
	return nil
}

func parseWebURL(urlString, fieldName string, requireHTTPS bool) (*url.URL, error) {
	if urlString == "" {
		return nil, nil
	}
	fail := func(msg string) error {
		return URLValidationError{Field: fieldName, Message: msg, URL: urlString}
	}

	parsed, err := url.Parse(urlString)
	if err != nil {
		return nil, fail("invalid URL format")
	}
	if parsed.Scheme == "" {
		return nil, fail("URL must include a scheme (http:// or https://)")
	}
	if parsed.Host == "" {
		return nil, fail("URL must include a host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if requireHTTPS && scheme != "https" {
		return nil, fail("URL must use HTTPS in production")
	}
	if scheme != "http" && scheme != "https" {
		return nil, fail("URL scheme must be http or https")
	}
	return parsed, nil
}
