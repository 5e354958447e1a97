package storage

import (
	"errors"

	"mercator-hq/arbiter/pkg/audit"
)

var errMissingID = errors.New("record id is required")

// prepare validates a copy of query and applies defaults.
func prepare(query *audit.Query) (*audit.Query, error) {
	q := audit.Query{}
	if query != nil {
		q = *query
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.ApplyDefaults()
	return &q, nil
}

func filterOnly(query *audit.Query) *audit.Query {
	if query == nil {
		return &audit.Query{}
	}
	return query
}
