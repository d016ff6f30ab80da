package tensor

// IsPermutation reports whether perm is a permutation of 0..len(perm)-1.
func IsPermutation(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

// IsIdentity reports whether perm maps every position to itself.
func IsIdentity(perm []int) bool {
	for i, p := range perm {
		if p != i {
			return false
		}
	}
	return true
}

// Inverse returns the permutation q with q[perm[i]] = i, so that permuting by
// perm and then by q restores the original dimension order.
func Inverse(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}
