package wid

// Lipmaa returns the sequence number of the skiplink ancestor required at
// position n, following the Bamboo lipmaa-sequence rule used by spec.md's
// entry-chain invariants. Positions 1 and 2 require no skiplink (callers
// check that separately); for n > 2 the result is always a valid, earlier
// sequence number.
//
// This is a direct port of the lipmaa-sequence number algorithm: find the
// smallest k with (3^k-1)/2 >= n. If n equals that bound, the ancestor is
// n - 3^(k-1); otherwise n is reduced modulo successively smaller
// (3^j-1)/2 values, and the last modulus used is the jump length.
func Lipmaa(n uint64) uint64 {
	if n <= 2 {
		return 1
	}
	m, po3, u := uint64(1), uint64(3), n
	for ; m < n; m = (po3 - 1) / 2 {
		po3 *= 3
	}
	po3 /= 3
	if m == n {
		return n - po3
	}
	for ; u != 0; u %= m {
		m, po3 = (po3-1)/2, po3/3
	}
	return n - m
}

// RequiresSkiplink reports whether an entry at sequence n must carry a
// skiplink distinct from its backlink (n-1). This happens whenever the
// lipmaa ancestor differs from the direct predecessor.
func RequiresSkiplink(n uint64) bool {
	if n <= 1 {
		return false
	}
	return Lipmaa(n) != n-1
}
