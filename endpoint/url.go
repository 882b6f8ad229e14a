package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// restPrefix sits between the service base URL and the API version.
const restPrefix = "/rest/"

// ErrMalformedURL is returned when the service base URL is not absolute.
var ErrMalformedURL = errors.New("endpoint: malformed service url")

// Param is one static query parameter. Value may be a string, a bool or any
// integer or float kind.
type Param struct {
	Name  string
	Value any
}

// URLParts is a normalized absolute URL plus its ordered query entries.
// Entries are "name=value" pairs and are not URL-encoded.
type URLParts struct {
	Path  string
	Query []string
}

// Normalize joins baseURL, the REST prefix, version and p into one absolute
// URL and serializes params in slice order.
func Normalize(baseURL, version, p string, params []Param) (URLParts, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return URLParts{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return URLParts{}, fmt.Errorf("%w: %q is not absolute", ErrMalformedURL, baseURL)
	}
	if strings.TrimSpace(version) == "" {
		return URLParts{}, fmt.Errorf("endpoint: empty api version")
	}

	joined := path.Join("/", u.Path, restPrefix, version, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	u.Path = joined
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	query := make([]string, 0, len(params))
	for _, param := range params {
		query = append(query, param.Name+"="+formatValue(param.Value))
	}
	return URLParts{Path: u.String(), Query: query}, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// encodeQuery URL-encodes "name=value" entries for the wire.
func encodeQuery(entries []string) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('&')
		}
		name, value, _ := strings.Cut(e, "=")
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	return b.String()
}
