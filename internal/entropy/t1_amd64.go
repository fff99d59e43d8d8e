//go:build amd64

package entropy

// useSIMD indicates SIMD is not available on this platform.
//
// This build previously declared a go:noescape entry point into
// hand-written AVX assembly (clearFlags_avx), but no corresponding .s
// file ships in this module, which would leave that symbol unresolved
// at link time. Until that assembly lands, amd64 shares the portable
// fallback with every other architecture.
const useSIMD = false

// clearFlagsFast uses a simple loop until an AVX kernel is added.
func clearFlagsFast(flags []T1Flags) {
	for i := range flags {
		flags[i] = 0
	}
}
