package geohash

// Neighbors are computed by shifting the cell's bounding box by its own
// width or height and re-encoding the shifted center at the same length.
// East/west wrap across the antimeridian. North/south do not wrap at the
// poles: shifting past a pole re-encodes into the same top or bottom row.

func North(code string) (string, error) {
	bb, err := DecodeBBox(code)
	if err != nil {
		return "", err
	}
	c := bb.Center()
	return encode(c.Lat+bb.Height(), c.Lon, len(code)), nil
}

func South(code string) (string, error) {
	bb, err := DecodeBBox(code)
	if err != nil {
		return "", err
	}
	c := bb.Center()
	return encode(c.Lat-bb.Height(), c.Lon, len(code)), nil
}

func East(code string) (string, error) {
	bb, err := DecodeBBox(code)
	if err != nil {
		return "", err
	}
	c := bb.Center()
	return encode(c.Lat, wrapLongitude(c.Lon+bb.Width()), len(code)), nil
}

func West(code string) (string, error) {
	bb, err := DecodeBBox(code)
	if err != nil {
		return "", err
	}
	c := bb.Center()
	return encode(c.Lat, wrapLongitude(c.Lon-bb.Width()), len(code)), nil
}

func wrapLongitude(lon float64) float64 {
	if lon > 180 {
		return -180 + (lon - 180)
	}
	if lon < -180 {
		return 180 + (lon + 180)
	}
	return lon
}

// SubHashes returns the 32 children of the code at the next length.
func SubHashes(code string) []string {
	out := make([]string, 0, len(Alphabet))
	for i := 0; i < len(Alphabet); i++ {
		out = append(out, code+string(Alphabet[i]))
	}
	return out
}

// The direction-indexed child subsets are static alphabet ranges: the fixed
// bit layout of an appended character puts the halves and quadrants at fixed
// positions in the alphabet.

func SubHashesNorth(code string) []string { return subRange(code, '0', 'g') }
func SubHashesSouth(code string) []string { return subRange(code, 'h', 'z') }

func SubHashesNorthWest(code string) []string { return subRange(code, '0', '7') }
func SubHashesNorthEast(code string) []string { return subRange(code, '8', 'g') }
func SubHashesSouthWest(code string) []string { return subRange(code, 'h', 'r') }
func SubHashesSouthEast(code string) []string { return subRange(code, 's', 'z') }

func subRange(code string, lo, hi byte) []string {
	out := make([]string, 0, len(Alphabet)/2)
	for i := 0; i < len(Alphabet); i++ {
		c := Alphabet[i]
		if c >= lo && c <= hi {
			out = append(out, code+string(c))
		}
	}
	return out
}

// IsWest reports whether longitude l1 lies west of l2 on the circle, with
// the -180/180 boundary treated as contiguous. Comparison happens on values
// shifted into [0,360).
func IsWest(l1, l2 float64) bool {
	w1 := l1 + 180
	w2 := l2 + 180
	if w1 == w2 {
		return false
	}
	if w1 < w2 {
		return w2-w1 < 180
	}
	return w1-w2 > 180
}

func IsEast(l1, l2 float64) bool { return IsWest(l2, l1) }

func IsNorth(lat1, lat2 float64) bool { return lat1 > lat2 }

func IsSouth(lat1, lat2 float64) bool { return lat1 < lat2 }

// Neighbors returns the eight surrounding cells clockwise from north.
func Neighbors(code string) ([]string, error) {
	n, err := North(code)
	if err != nil {
		return nil, err
	}
	s, _ := South(code)
	e, _ := East(code)
	w, _ := West(code)
	ne, _ := East(n)
	se, _ := East(s)
	sw, _ := West(s)
	nw, _ := West(n)
	return []string{n, ne, e, se, s, sw, w, nw}, nil
}
