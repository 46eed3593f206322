package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/alerts/internal/alert"
	"github.com/lalithlochan/alerts/internal/db"
)

// parseListOptions reads q, jurisdiction, receiver, method, sort, limit,
// skip and page. Repeatable filters accept both repeated keys and comma
// separated values. page is 1-based and ignored when skip is given.
func parseListOptions(r *http.Request) (db.ListOptions, error) {
	q := r.URL.Query()
	opts := db.ListOptions{
		Search: strings.TrimSpace(q.Get("q")),
		Sort:   q.Get("sort"),
	}

	for _, v := range values(q, "jurisdiction") {
		id, err := uuid.Parse(v)
		if err != nil {
			return opts, fmt.Errorf("jurisdiction %q is not a valid UUID", v)
		}
		opts.Jurisdictions = append(opts.Jurisdictions, id)
	}
	for _, v := range values(q, "receiver") {
		opts.Receivers = append(opts.Receivers, db.Receiver(v))
	}
	for _, v := range values(q, "method") {
		opts.Methods = append(opts.Methods, db.Method(strings.ToUpper(v)))
	}

	if opts.Sort != "" && !db.ValidSort(opts.Sort) {
		return opts, fmt.Errorf("unsupported sort %q", opts.Sort)
	}

	var err error
	if opts.Limit, err = intParam(q, "limit"); err != nil {
		return opts, err
	}
	opts = alert.NormalizeListOptions(opts)

	if q.Get("skip") != "" {
		if opts.Skip, err = intParam(q, "skip"); err != nil {
			return opts, err
		}
	} else if q.Get("page") != "" {
		page, err := intParam(q, "page")
		if err != nil {
			return opts, err
		}
		if page < 1 {
			page = 1
		}
		opts.Skip = (page - 1) * opts.Limit
	}

	return opts, nil
}

func values(q url.Values, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
