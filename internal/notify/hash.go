// Package notify provides the time-triggered notification scheduler.
package notify

// HashID maps a string notification id to a non-negative 32-bit integer
// for backends that require numeric ids. This is a lossy compatibility
// shim, not an identity scheme: distinct ids can collide, and callers
// must keep the original string id (e.g. alongside the numeric one) to
// recover identity. Collisions only cost a spurious replace/cancel on
// the numeric-id backend.
func HashID(s string) int32 {
	var hash int32
	for _, c := range s {
		hash = (hash << 5) - hash + int32(c)
	}
	if hash < 0 {
		// math.MinInt32 negates to itself; map it to 0.
		if hash == -2147483648 {
			return 0
		}
		return -hash
	}
	return hash
}
