// Package geohash implements the base32 geohash codec and cell navigation.
// A code of length n encodes 5n bits, each bit halving either the longitude
// or the latitude interval, alternating starting with longitude. Codes that
// share a prefix share the prefix cell's bounding box.
package geohash

import (
	"errors"
	"fmt"

	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geo"
)

// Alphabet is the 32-character geohash alphabet. It skips a, i, l and o.
const Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// MaxLength is the longest supported code.
const MaxLength = 12

// coordEps tolerates floating-point noise just past the coordinate limits,
// e.g. 180.00000000000023 from an upstream computation is still accepted.
const coordEps = 1e-9

var (
	ErrBadLength     = errors.New("geohash: code length out of range")
	ErrBadCoordinate = errors.New("geohash: coordinate out of range")
	ErrBadCode       = errors.New("geohash: malformed code")
)

var alphabetIndex = buildAlphabetIndex()

func buildAlphabetIndex() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		idx[Alphabet[i]] = int8(i)
	}
	return idx
}

// ValidateCoordinate checks that lat/lon are within their nominal ranges,
// with a small epsilon for float noise.
func ValidateCoordinate(lat, lon float64) error {
	if lat < -90-coordEps || lat > 90+coordEps {
		return fmt.Errorf("%w: latitude %v", ErrBadCoordinate, lat)
	}
	if lon < -180-coordEps || lon > 180+coordEps {
		return fmt.Errorf("%w: longitude %v", ErrBadCoordinate, lon)
	}
	return nil
}

// Encode returns the geohash of the given coordinate at the given length.
func Encode(lat, lon float64, length int) (string, error) {
	if length < 1 || length > MaxLength {
		return "", fmt.Errorf("%w: %d not in [1,%d]", ErrBadLength, length, MaxLength)
	}
	if err := ValidateCoordinate(lat, lon); err != nil {
		return "", err
	}
	return encode(lat, lon, length), nil
}

// encode skips validation; neighbor computation relies on that to re-encode
// centers nudged past a pole, where the bisection naturally clamps to the
// top or bottom row.
func encode(lat, lon float64, length int) string {
	lonLo, lonHi := -180.0, 180.0
	latLo, latHi := -90.0, 90.0

	buf := make([]byte, 0, length)
	ch := 0
	bit := 0
	even := true
	for len(buf) < length {
		if even {
			mid := (lonLo + lonHi) / 2
			if lon >= mid {
				ch = ch<<1 | 1
				lonLo = mid
			} else {
				ch <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat >= mid {
				ch = ch<<1 | 1
				latLo = mid
			} else {
				ch <<= 1
				latHi = mid
			}
		}
		even = !even
		bit++
		if bit == 5 {
			buf = append(buf, Alphabet[ch])
			ch, bit = 0, 0
		}
	}
	return string(buf)
}

// DecodeBBox replays the bisection and returns the cell's bounding box.
func DecodeBBox(code string) (geo.BBox, error) {
	if len(code) < 1 || len(code) > MaxLength {
		return geo.BBox{}, fmt.Errorf("%w: length %d not in [1,%d]", ErrBadLength, len(code), MaxLength)
	}
	lonLo, lonHi := -180.0, 180.0
	latLo, latHi := -90.0, 90.0

	even := true
	for i := 0; i < len(code); i++ {
		ci := alphabetIndex[code[i]]
		if ci < 0 {
			return geo.BBox{}, fmt.Errorf("%w: character %q at position %d", ErrBadCode, code[i], i)
		}
		for j := 4; j >= 0; j-- {
			set := ci>>uint(j)&1 == 1
			if even {
				mid := (lonLo + lonHi) / 2
				if set {
					lonLo = mid
				} else {
					lonHi = mid
				}
			} else {
				mid := (latLo + latHi) / 2
				if set {
					latLo = mid
				} else {
					latHi = mid
				}
			}
			even = !even
		}
	}
	return geo.BBox{West: lonLo, South: latLo, East: lonHi, North: latHi}, nil
}

// Decode returns the center of the code's bounding box. The result is not
// rounded, so short codes still yield a precise center; callers wanting a
// rounded display value apply their own rounding.
func Decode(code string) (geo.Point, error) {
	bb, err := DecodeBBox(code)
	if err != nil {
		return geo.Point{}, err
	}
	return bb.Center(), nil
}

// Contains reports whether the coordinate falls inside the code's cell.
func Contains(code string, lat, lon float64) (bool, error) {
	bb, err := DecodeBBox(code)
	if err != nil {
		return false, err
	}
	return bb.Contains(geo.Point{Lon: lon, Lat: lat}), nil
}

// CellWidth returns the longitude extent in degrees of a cell at the given
// code length. Lengths outside [1,MaxLength] return 0.
func CellWidth(length int) float64 {
	if length < 1 || length > MaxLength {
		return 0
	}
	lonBits := (5*length + 1) / 2
	return 360 / float64(uint64(1)<<uint(lonBits))
}

// CellHeight returns the latitude extent in degrees of a cell at the given
// code length.
func CellHeight(length int) float64 {
	if length < 1 || length > MaxLength {
		return 0
	}
	latBits := 5 * length / 2
	return 180 / float64(uint64(1)<<uint(latBits))
}
