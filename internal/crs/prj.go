package crs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	authorityRe = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	rootNameRe  = regexp.MustCompile(`(?i)^\s*(PROJCS|GEOGCS|PROJCRS|GEOGCRS|GEODCRS)\s*\[\s*"([^"]+)"`)
	utmNameRe   = regexp.MustCompile(`^wgs(?:19)?84utmzone(\d{1,2})([ns])$`)
	nonAlnumRe  = regexp.MustCompile(`[^a-z0-9]+`)
)

// knownNames maps normalised WKT root names (lowercase, alphanumerics only)
// to EPSG codes. ESRI-flavoured .prj files rarely carry an authority.
var knownNames = map[string]int{
	"osgb1936britishnationalgrid":       EPSGBritishGrid,
	"osgb36britishnationalgrid":         EPSGBritishGrid,
	"britishnationalgrid":               EPSGBritishGrid,
	"gcsosgb1936":                       EPSGOSGB36,
	"osgb1936":                          EPSGOSGB36,
	"osgb36":                            EPSGOSGB36,
	"gcswgs1984":                        EPSGWGS84,
	"wgs84":                             EPSGWGS84,
	"wgs1984":                           EPSGWGS84,
	"gcsnorthamerican1983":              EPSGNAD83,
	"nad83":                             EPSGNAD83,
	"wgs1984webmercatorauxiliarysphere": EPSGWebMercator,
	"wgs1984webmercator":                EPSGWebMercator,
	"wgs84pseudomercator":               EPSGWebMercator,
	"popularvisualisationcrsmercator":   EPSGWebMercator,
}

// ParsePRJ resolves the WKT of a .prj file to a registry CRS. An EPSG
// authority on the root element wins; otherwise the root name is matched.
func ParsePRJ(wkt string) (*CRS, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return nil, eris.Wrap(ErrUnknownCRS, "crs: empty prj")
	}

	if code, ok := rootAuthority(wkt); ok {
		if c, err := Lookup(code); err == nil {
			return c, nil
		}
	}

	m := rootNameRe.FindStringSubmatch(wkt)
	if m == nil {
		return nil, eris.Wrap(ErrUnknownCRS, "crs: prj has no PROJCS/GEOGCS root")
	}
	name := normalizeName(m[2])

	if code, ok := knownNames[name]; ok {
		return Lookup(code)
	}
	if um := utmNameRe.FindStringSubmatch(name); um != nil {
		zone, _ := strconv.Atoi(um[1])
		base := 32600
		if um[2] == "s" {
			base = 32700
		}
		return Lookup(base + zone)
	}

	return nil, eris.Wrapf(ErrUnknownCRS, "crs: unrecognised prj %q", m[2])
}

func normalizeName(s string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(s), "")
}

// rootAuthority returns the EPSG code attached directly to the root element.
// Nested authorities (on GEOGCS, DATUM, UNIT...) are ignored.
func rootAuthority(wkt string) (int, bool) {
	for _, loc := range authorityRe.FindAllStringSubmatchIndex(wkt, -1) {
		if bracketDepth(wkt[:loc[0]]) != 1 {
			continue
		}
		code, err := strconv.Atoi(wkt[loc[2]:loc[3]])
		if err != nil {
			return 0, false
		}
		return code, true
	}
	return 0, false
}

func bracketDepth(s string) int {
	depth := 0
	inQuote := false
	for _, ch := range s {
		switch {
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		}
	}
	return depth
}
