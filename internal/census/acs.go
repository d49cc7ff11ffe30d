package census

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/fetcher"
	"github.com/sells-group/geo-report/internal/resilience"
)

const defaultDataset = "acs/acs5"

// annotationValues are the negative sentinels the API returns in place of
// an estimate or margin of error.
var annotationValues = map[float64]bool{
	-999999999: true,
	-888888888: true,
	-666666666: true,
	-555555555: true,
	-333333333: true,
	-222222222: true,
}

// ACS fetches the query's variables for every unit in the geography. It
// returns one Record per unit per variable, sorted by GEOID and then by the
// query's variable order. With q.Geometry set each record carries its
// cartographic boundary, or nil when the boundary file has no match.
func (c *Client) ACS(ctx context.Context, q Query) ([]Record, error) {
	q, stateFIPS, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("component", "census.acs"),
		zap.Int("year", q.Year),
		zap.String("dataset", q.Dataset),
		zap.String("level", string(q.Geography.Level)),
		zap.String("state", stateFIPS),
	)

	base, params := c.requestURL(q, stateFIPS)
	data, err := c.get(ctx, base, params)
	if err != nil {
		return nil, err
	}

	records, err := parseACS(data, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response has no rows", Kind: ErrNoData}
	}
	log.Info("census: fetched estimates", zap.Int("records", len(records)))

	if q.Geometry {
		shapes, err := c.boundaries(ctx, q, stateFIPS)
		if err != nil {
			return nil, err
		}
		missing := 0
		for i := range records {
			g, ok := shapes[records[i].GEOID]
			if !ok {
				missing++
				continue
			}
			records[i].Geometry = g
		}
		if missing > 0 {
			log.Warn("census: records without a boundary", zap.Int("missing", missing))
		}
	}
	return records, nil
}

func normalizeQuery(q Query) (Query, string, error) {
	if q.Year <= 0 {
		return q, "", eris.New("census: query year is required")
	}
	if q.Dataset == "" {
		q.Dataset = defaultDataset
	}
	if len(q.Variables) == 0 {
		return q, "", eris.New("census: query has no variables")
	}
	seen := make(map[string]bool, len(q.Variables))
	vars := make([]Variable, len(q.Variables))
	for i, v := range q.Variables {
		v.Code = normalizeCode(v.Code)
		if v.Code == "" {
			return q, "", eris.Wrapf(ErrUnknownVariable, "census: variable %q has no code", v.Name)
		}
		if v.Name == "" {
			v.Name = v.Code
		}
		if seen[v.Name] {
			return q, "", eris.Errorf("census: duplicate variable name %q", v.Name)
		}
		seen[v.Name] = true
		vars[i] = v
	}
	q.Variables = vars
	q.SummaryVar = normalizeCode(q.SummaryVar)

	switch q.Geography.Level {
	case LevelTract, LevelCounty:
	case "":
		q.Geography.Level = LevelTract
	default:
		return q, "", eris.Wrapf(ErrUnknownGeography, "census: level %q", q.Geography.Level)
	}
	stateFIPS, ok := ResolveState(q.Geography.State)
	if !ok {
		return q, "", eris.Wrapf(ErrUnknownGeography, "census: state %q", q.Geography.State)
	}
	if c := q.Geography.County; c != "" {
		if len(c) > 3 || strings.Trim(c, "0123456789") != "" {
			return q, "", eris.Wrapf(ErrUnknownGeography, "census: county %q", c)
		}
		q.Geography.County = strings.Repeat("0", 3-len(c)) + c
	}
	return q, stateFIPS, nil
}

// normalizeCode strips a trailing E or M suffix so "B03002_003E" and
// "B03002_003" name the same cell.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if i := strings.LastIndexByte(code, '_'); i >= 0 && i < len(code)-1 {
		if last := code[len(code)-1]; last == 'E' || last == 'M' {
			return code[:len(code)-1]
		}
	}
	return code
}

// requestURL returns the endpoint and query parameters, minus the key.
func (c *Client) requestURL(q Query, stateFIPS string) (string, url.Values) {
	get := []string{"NAME"}
	for _, v := range q.Variables {
		get = append(get, v.Code+"E", v.Code+"M")
	}
	if q.SummaryVar != "" {
		get = append(get, q.SummaryVar+"E", q.SummaryVar+"M")
	}

	params := url.Values{}
	params.Set("get", strings.Join(get, ","))
	switch q.Geography.Level {
	case LevelCounty:
		county := "*"
		if q.Geography.County != "" {
			county = q.Geography.County
		}
		params.Set("for", "county:"+county)
		params.Set("in", "state:"+stateFIPS)
	default:
		params.Set("for", "tract:*")
		in := "state:" + stateFIPS
		if q.Geography.County != "" {
			in += " county:" + q.Geography.County
		}
		params.Set("in", in)
	}
	base := fmt.Sprintf("%s/%d/%s", strings.TrimRight(c.cfg.BaseURL, "/"), q.Year, strings.Trim(q.Dataset, "/"))
	return base, params
}

// get performs the request, consulting the response cache first. The cache
// key is the URL without the API key.
func (c *Client) get(ctx context.Context, base string, params url.Values) ([]byte, error) {
	cacheKey := base + "?" + params.Encode()
	if c.cfg.Cache != nil {
		data, ok, err := c.cfg.Cache.Get(ctx, cacheNamespace, cacheKey)
		if err != nil {
			zap.L().Warn("census: cache read failed", zap.Error(err))
		} else if ok {
			zap.L().Debug("census: cache hit", zap.String("url", cacheKey))
			return data, nil
		}
	}

	full := cacheKey
	if c.cfg.Key != "" {
		withKey := url.Values{}
		for k, v := range params {
			withKey[k] = v
		}
		withKey.Set("key", c.cfg.Key)
		full = base + "?" + withKey.Encode()
	}

	resp, err := c.http.Get(ctx, full)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error(), Kind: ErrUnavailable}
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "empty response", Kind: ErrNoData}
	}
	if isInvalidKeyPage(data) {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "the API key was rejected", Kind: ErrInvalidKey}
	}

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Set(ctx, cacheNamespace, cacheKey, data, c.cfg.CacheTTL); err != nil {
			zap.L().Warn("census: cache write failed", zap.Error(err))
		}
	}
	return data, nil
}

// isInvalidKeyPage detects the HTML page served with status 200 for a bad key.
func isInvalidKeyPage(data []byte) bool {
	head := bytes.ToLower(data[:min(len(data), 2048)])
	return bytes.Contains(head, []byte("invalid key"))
}

// classify maps a fetch failure onto the census error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "census: request cancelled")
	}

	var se *fetcher.StatusError
	if errors.As(err, &se) {
		msg := strings.TrimSpace(se.Body)
		lower := strings.ToLower(msg)
		kind := ErrBadRequest
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden,
			strings.Contains(lower, "invalid key"):
			kind = ErrInvalidKey
		case se.StatusCode == http.StatusNotFound:
			kind = ErrNoData
		case strings.Contains(lower, "variable"):
			kind = ErrUnknownVariable
		case strings.Contains(lower, "geography"), strings.Contains(lower, "ambiguous"):
			kind = ErrUnknownGeography
		}
		return &APIError{StatusCode: se.StatusCode, Message: msg, Kind: kind}
	}

	status := 0
	var te *resilience.TransientError
	if errors.As(err, &te) {
		status = te.StatusCode
	}
	return &APIError{StatusCode: status, Message: err.Error(), Kind: ErrUnavailable}
}

// parseACS turns the API's array-of-arrays response into records.
func parseACS(data []byte, q Query) ([]Record, error) {
	var raw [][]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "census: unmarshal response")
	}
	if len(raw) < 2 {
		return nil, nil
	}

	colIdx := make(map[string]int, len(raw[0]))
	for i, col := range raw[0] {
		if col != nil {
			colIdx[*col] = i
		}
	}
	need := []string{"NAME", "state"}
	switch q.Geography.Level {
	case LevelCounty:
		need = append(need, "county")
	default:
		need = append(need, "county", "tract")
	}
	for _, v := range q.Variables {
		need = append(need, v.Code+"E", v.Code+"M")
	}
	for _, col := range need {
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("census: response is missing column %q", col)
		}
	}

	cell := func(row []*string, col string) *string {
		i, ok := colIdx[col]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}
	text := func(row []*string, col string) string {
		if s := cell(row, col); s != nil {
			return *s
		}
		return ""
	}

	rows := raw[1:]
	geoid := func(row []*string) string {
		id := text(row, "state") + text(row, "county")
		if q.Geography.Level != LevelCounty {
			id += text(row, "tract")
		}
		return id
	}
	sort.SliceStable(rows, func(i, j int) bool { return geoid(rows[i]) < geoid(rows[j]) })

	records := make([]Record, 0, len(rows)*len(q.Variables))
	for _, row := range rows {
		summary, summaryMOE := math.NaN(), math.NaN()
		if q.SummaryVar != "" {
			summary = parseValue(cell(row, q.SummaryVar+"E"))
			summaryMOE = parseValue(cell(row, q.SummaryVar+"M"))
		}
		id := geoid(row)
		name := text(row, "NAME")
		for _, v := range q.Variables {
			records = append(records, Record{
				GEOID:      id,
				Name:       name,
				Variable:   v.Name,
				Code:       v.Code,
				Estimate:   parseValue(cell(row, v.Code+"E")),
				MOE:        parseValue(cell(row, v.Code+"M")),
				Summary:    summary,
				SummaryMOE: summaryMOE,
			})
		}
	}
	return records, nil
}

// parseValue reads a numeric cell. Nulls, garbage and annotation sentinels
// become NaN.
func parseValue(s *string) float64 {
	if s == nil {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil || annotationValues[v] {
		return math.NaN()
	}
	return v
}
