package sqlite

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const scheme = "sqlite://"

// location is a parsed sqlite:// DSN. Relative paths are anchored at the
// working directory with a leading "./".
type location struct {
	path   string
	query  string
	memory bool
}

func parseDSN(dsn string) (location, error) {
	rest, ok := strings.CutPrefix(dsn, scheme)
	if !ok {
		return location{}, fmt.Errorf("invalid sqlite DSN scheme, expected %s", scheme)
	}
	if rest == ":memory:" {
		return location{path: ":memory:", memory: true}, nil
	}

	path, query, _ := strings.Cut(rest, "?")
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return location{}, fmt.Errorf("unescaping path: %w", err)
	}
	if strings.TrimSpace(unescaped) == "" {
		return location{}, fmt.Errorf("sqlite DSN has no database path")
	}
	if !filepath.IsAbs(unescaped) && !strings.HasPrefix(unescaped, "./") {
		unescaped = "./" + unescaped
	}
	return location{path: unescaped, query: query}, nil
}

// driverName is the form modernc.org/sqlite accepts.
func (l location) driverName() string {
	if l.query == "" {
		return l.path
	}
	return l.path + "?" + l.query
}

func (l location) dir() string {
	if l.memory {
		return ""
	}
	return filepath.Dir(l.path)
}
