package matcher

import "math"

const floatTolerance = 1e-2

// Compare decides whether a and b plausibly describe the same photo or
// video (spec §4.4). It returns false only when it has good confidence
// the two differ; true can mean either "confirmed the same" or simply
// "no contradicting evidence was present" — the predicate is lenient
// toward missing fields and only contradictions veto a match.
func Compare(a, b ImageData) bool {
	if !timesIntersect(a.AllTimes, b.AllTimes) {
		return false
	}

	if (a.Photo != nil) != (b.Photo != nil) {
		return false
	}

	if a.Photo != nil {
		aw, ah := normalizeOrientation(a.Width, a.Height)
		bw, bh := normalizeOrientation(b.Width, b.Height)
		if mismatchFloat(aw, bw, 0) || mismatchFloat(ah, bh, 0) {
			return false
		}
		if mismatchString(a.Photo.CameraMake, b.Photo.CameraMake) {
			return false
		}
		if mismatchString(a.Photo.CameraModel, b.Photo.CameraModel) {
			return false
		}
		if mismatchInt64(a.Photo.ISOEquivalent, b.Photo.ISOEquivalent) {
			return false
		}
		if mismatchFloat(a.Photo.FocalLength, b.Photo.FocalLength, floatTolerance) {
			return false
		}
		if mismatchFloat(a.Photo.ApertureFNumber, b.Photo.ApertureFNumber, floatTolerance) {
			return false
		}
		if mismatchFloat(a.Photo.ExposureTime, b.Photo.ExposureTime, floatTolerance) {
			return false
		}
	}

	// Video: source downscales video, so width/height are not compared
	// (spec §4.4 point 5) — only camera make/model, added beyond the
	// original implementation.
	if a.Video != nil && b.Video != nil {
		if mismatchString(a.Video.CameraMake, b.Video.CameraMake) {
			return false
		}
		if mismatchString(a.Video.CameraModel, b.Video.CameraModel) {
			return false
		}
	}

	return true
}

func timesIntersect(a, b map[int64]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}

// normalizeOrientation swaps width/height when height exceeds width, so
// that a 90-degree-rotated report on one side doesn't veto an otherwise
// matching pair (spec §4.4 point 3; both the source and sink APIs are
// observed to disagree about which dimension is "width").
func normalizeOrientation(width, height *float64) (*float64, *float64) {
	if width == nil || height == nil {
		return width, height
	}
	if *height > *width {
		return height, width
	}
	return width, height
}

// mismatchString reports a contradiction: both present and unequal.
// Tolerant of either side being absent.
func mismatchString(a, b *string) bool {
	return a != nil && b != nil && *a != *b
}

func mismatchInt64(a, b *int64) bool {
	return a != nil && b != nil && *a != *b
}

func mismatchFloat(a, b *float64, tolerance float64) bool {
	if a == nil || b == nil {
		return false
	}
	return math.Abs(*a-*b) > tolerance
}
