package geo

import "strings"

// DefaultPrecision is the geohash length attached to live status rows.
// Six characters is a cell of roughly 1.2 km x 0.6 km, coarse enough for
// map clustering without revealing a member's exact position.
const DefaultPrecision = 6

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode returns the geohash of p with the given length.
// A precision below 1 falls back to DefaultPrecision.
func Encode(p Point, precision int) string {
	if precision < 1 {
		precision = DefaultPrecision
	}

	latRange := [2]float64{MinLat, MaxLat}
	lngRange := [2]float64{MinLng, MaxLng}

	var sb strings.Builder
	sb.Grow(precision)

	var ch uint
	bit := 0
	lngTurn := true
	for sb.Len() < precision {
		rng, v := &latRange, p.Lat
		if lngTurn {
			rng, v = &lngRange, p.Lng
		}
		mid := (rng[0] + rng[1]) / 2
		if v > mid {
			ch |= 1 << (4 - bit)
			rng[0] = mid
		} else {
			rng[1] = mid
		}

		lngTurn = !lngTurn
		bit++
		if bit == 5 {
			sb.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}

	return sb.String()
}
