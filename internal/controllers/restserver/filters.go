package restserver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/gorilla/schema"
)

// datetimeLocal is the layout browsers submit from <input type="datetime-local">.
// With a step attribute set they add seconds.
const (
	datetimeLocal        = "2006-01-02T15:04"
	datetimeLocalSeconds = "2006-01-02T15:04:05"
)

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// filterQuery is the dashboard filter as it appears in the query string.
type filterQuery struct {
	From       string `schema:"from"`
	To         string `schema:"to"`
	Department string `schema:"department"`
	Scope      string `schema:"scope"`
	Match      string `schema:"match"`
	Range      string `schema:"range"`
}

// quickRanges are the "last hour / 24h / 7 days" shortcuts.
var quickRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// errBadQuery marks errors caused by the caller's query string.
var errBadQuery = errors.New("invalid query")

func decodeQuery(dst any, q url.Values) error {
	if err := queryDecoder.Decode(dst, q); err != nil {
		return fmt.Errorf("%w: %v", errBadQuery, err)
	}
	return nil
}

// parseFilter turns query parameters into FilterCriteria. fallback is the
// department match mode used when the request does not name one.
func parseFilter(q url.Values, loc *time.Location, fallback types.DepartmentMatch, now time.Time) (types.FilterCriteria, error) {
	var fq filterQuery
	if err := decodeQuery(&fq, q); err != nil {
		return types.FilterCriteria{}, err
	}

	c := types.FilterCriteria{
		Department:      strings.TrimSpace(fq.Department),
		DepartmentMatch: fallback,
	}

	if fq.Match != "" {
		m := types.DepartmentMatch(strings.ToLower(fq.Match))
		if !m.Valid() {
			return c, fmt.Errorf("%w: match must be %q or %q", errBadQuery, types.MatchExact, types.MatchSubstring)
		}
		c.DepartmentMatch = m
	}

	if fq.Scope != "" {
		sc, err := types.ParseScope(fq.Scope)
		if err != nil {
			return c, fmt.Errorf("%w: %v", errBadQuery, err)
		}
		c.Scope = &sc
	}

	if fq.Range != "" {
		if strings.TrimSpace(fq.From) != "" || strings.TrimSpace(fq.To) != "" {
			return c, fmt.Errorf("%w: range cannot be combined with from or to", errBadQuery)
		}
		d, ok := quickRanges[fq.Range]
		if !ok {
			return c, fmt.Errorf("%w: range must be one of 1h, 24h, 7d", errBadQuery)
		}
		from := now.Add(-d)
		c.From = &from
		return c, nil
	}

	var err error
	if c.From, err = parseBound("from", fq.From, loc); err != nil {
		return c, err
	}
	if c.To, err = parseBound("to", fq.To, loc); err != nil {
		return c, err
	}
	if c.From != nil && c.To != nil && c.To.Before(*c.From) {
		return c, fmt.Errorf("%w: to is before from", errBadQuery)
	}
	return c, nil
}

// parseBound accepts RFC 3339 or a zone-less datetime-local value, which is
// read in the display location.
func parseBound(name, v string, loc *time.Location) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	for _, layout := range []string{datetimeLocal, datetimeLocalSeconds} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be RFC 3339 or %s", errBadQuery, name, datetimeLocal)
}
