package httputil

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// ParsePathString extracts a non-empty string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := strings.TrimSpace(mux.Vars(r)[key])
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParsePathStringOrError extracts a string path parameter and writes error on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// ParseQueryDate parses a YYYY-MM-DD query parameter as a UTC date. An absent
// parameter returns the zero time.
func ParseQueryDate(r *http.Request, key string) (time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return time.Time{}, nil
	}
	val, err := time.ParseInLocation(time.DateOnly, str, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date for query param %s: %q (want YYYY-MM-DD)", key, str)
	}
	return val, nil
}

// ParseQueryDateRange parses the from and to date parameters, writing a 400 on failure
func ParseQueryDateRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	from, err := ParseQueryDate(r, "from")
	if err == nil {
		to, err = ParseQueryDate(r, "to")
	}
	if err != nil {
		WriteBadRequest(w, err.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
