package sample

// Downsample reduces points to at most maxPoints entries by decimation.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// Returns the destination slice (may be dst if reused, or a new slice if dst was too small).
// If len(points) <= maxPoints, copies all points to dst.
func Downsample[T any](dst []T, points []T, maxPoints int) []T {
	if maxPoints <= 0 || len(points) <= maxPoints {
		if cap(dst) >= len(points) {
			dst = dst[:len(points)]
			copy(dst, points)
			return dst
		}
		result := make([]T, len(points))
		copy(result, points)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0] // Reset length but keep capacity
	} else {
		dst = make([]T, 0, maxPoints)
	}

	// Calculate step size for decimation
	step := float64(len(points)) / float64(maxPoints)

	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(points) {
			dst = append(dst, points[idx])
		}
	}

	return dst
}
