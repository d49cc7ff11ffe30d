package census

import (
	"sort"
	"strings"
)

// StateFIPS maps USPS abbreviations to two-digit FIPS codes for the 50
// states, DC and Puerto Rico.
var StateFIPS = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56", "PR": "72",
}

var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(StateFIPS))
	for abbr, fips := range StateFIPS {
		abbrByFIPS[fips] = abbr
	}
}

// ResolveState returns the FIPS code for an abbreviation or FIPS code.
func ResolveState(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if fips, ok := StateFIPS[s]; ok {
		return fips, true
	}
	if len(s) == 1 {
		s = "0" + s
	}
	if _, ok := abbrByFIPS[s]; ok {
		return s, true
	}
	return "", false
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// AllStateFIPS returns every known FIPS code, sorted.
func AllStateFIPS() []string {
	codes := make([]string, 0, len(StateFIPS))
	for _, fips := range StateFIPS {
		codes = append(codes, fips)
	}
	sort.Strings(codes)
	return codes
}
