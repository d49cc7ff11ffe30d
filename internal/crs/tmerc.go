package crs

import "math"

// TransverseMercator implements the ellipsoidal transverse Mercator projection
// using Krüger's series to sixth order in the third flattening, which keeps
// forward/inverse round trips at nanometre level anywhere within a few
// thousand kilometres of the central meridian.
type TransverseMercator struct {
	Ellipsoid     Ellipsoid
	Lat0, Lon0    float64 // degrees
	K0            float64
	FalseEasting  float64
	FalseNorthing float64

	e     float64
	a     float64 // rectifying radius
	alpha [6]float64
	beta  [6]float64
	xi0   float64
}

// NewTransverseMercator precomputes the series coefficients for a projection.
func NewTransverseMercator(ell Ellipsoid, lat0, lon0, k0, fe, fn float64) *TransverseMercator {
	tm := &TransverseMercator{
		Ellipsoid:     ell,
		Lat0:          lat0,
		Lon0:          lon0,
		K0:            k0,
		FalseEasting:  fe,
		FalseNorthing: fn,
		e:             math.Sqrt(ell.E2()),
	}

	n := ell.F / (2 - ell.F)
	n2 := n * n
	n3 := n2 * n
	n4 := n3 * n
	n5 := n4 * n
	n6 := n5 * n

	tm.a = ell.A / (1 + n) * (1 + n2/4 + n4/64 + n6/256)

	tm.alpha = [6]float64{
		n/2 - 2*n2/3 + 5*n3/16 + 41*n4/180 - 127*n5/288 + 7891*n6/37800,
		13*n2/48 - 3*n3/5 + 557*n4/1440 + 281*n5/630 - 1983433*n6/1935360,
		61*n3/240 - 103*n4/140 + 15061*n5/26880 + 167603*n6/181440,
		49561*n4/161280 - 179*n5/168 + 6601661*n6/7257600,
		34729*n5/80640 - 3418889*n6/1995840,
		212378941 * n6 / 319334400,
	}
	tm.beta = [6]float64{
		n/2 - 2*n2/3 + 37*n3/96 - n4/360 - 81*n5/512 + 96199*n6/604800,
		n2/48 + n3/15 - 437*n4/1440 + 46*n5/105 - 1118711*n6/3870720,
		17*n3/480 - 37*n4/840 - 209*n5/4480 + 5569*n6/90720,
		4397*n4/161280 - 11*n5/504 - 830251*n6/7257600,
		4583*n5/161280 - 108847*n6/3991680,
		20648693 * n6 / 638668800,
	}

	xi, _ := tm.gaussSchreiber(lat0*math.Pi/180, 0)
	tm.xi0 = xi
	return tm
}

// conformalTan returns tan of the conformal latitude for tan(phi) = tau.
func (tm *TransverseMercator) conformalTan(tau float64) float64 {
	sigma := math.Sinh(tm.e * math.Atanh(tm.e*tau/math.Sqrt(1+tau*tau)))
	return tau*math.Sqrt(1+sigma*sigma) - sigma*math.Sqrt(1+tau*tau)
}

// gaussSchreiber maps geodetic latitude and longitude offset (radians) to the
// normalised ellipsoidal coordinates (xi, eta).
func (tm *TransverseMercator) gaussSchreiber(phi, lambda float64) (xi, eta float64) {
	tauP := tm.conformalTan(math.Tan(phi))
	cosL := math.Cos(lambda)
	xiP := math.Atan2(tauP, cosL)
	etaP := math.Asinh(math.Sin(lambda) / math.Sqrt(tauP*tauP+cosL*cosL))

	xi, eta = xiP, etaP
	for j := 1; j <= 6; j++ {
		k := float64(2 * j)
		xi += tm.alpha[j-1] * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += tm.alpha[j-1] * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}
	return xi, eta
}

// Forward projects geographic degrees to easting/northing in metres.
func (tm *TransverseMercator) Forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) >= 90 || math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, ErrOutOfDomain
	}
	lambda := normalizeLon(lon-tm.Lon0) * math.Pi / 180
	if math.Abs(lambda) >= math.Pi/2 {
		return 0, 0, ErrOutOfDomain
	}

	xi, eta := tm.gaussSchreiber(lat*math.Pi/180, lambda)
	x := tm.FalseEasting + tm.K0*tm.a*eta
	y := tm.FalseNorthing + tm.K0*tm.a*(xi-tm.xi0)
	return x, y, nil
}

// Inverse converts easting/northing in metres back to geographic degrees.
func (tm *TransverseMercator) Inverse(x, y float64) (float64, float64, error) {
	eta := (x - tm.FalseEasting) / (tm.K0 * tm.a)
	xi := (y-tm.FalseNorthing)/(tm.K0*tm.a) + tm.xi0

	xiP, etaP := xi, eta
	for j := 1; j <= 6; j++ {
		k := float64(2 * j)
		xiP -= tm.beta[j-1] * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= tm.beta[j-1] * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	sinhEtaP := math.Sinh(etaP)
	sinXiP, cosXiP := math.Sincos(xiP)
	tauP := sinXiP / math.Sqrt(sinhEtaP*sinhEtaP+cosXiP*cosXiP)

	e2 := tm.e * tm.e
	tau := tauP
	for range 20 {
		tauI := tm.conformalTan(tau)
		delta := (tauP - tauI) / math.Sqrt(1+tauI*tauI) *
			(1 + (1-e2)*tau*tau) / ((1 - e2) * math.Sqrt(1+tau*tau))
		tau += delta
		if math.Abs(delta) < 1e-14 {
			break
		}
	}

	lat := math.Atan(tau) * 180 / math.Pi
	lon := math.Atan2(sinhEtaP, cosXiP)*180/math.Pi + tm.Lon0
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, ErrOutOfDomain
	}
	return normalizeLon(lon), lat, nil
}

// normalizeLon wraps a longitude in degrees into [-180, 180]. Both seam
// values pass through unchanged; anything wider wraps into (-180, 180].
func normalizeLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	if lon == 0 {
		return 180
	}
	return lon - 180
}
