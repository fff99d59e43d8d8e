//go:build arm64

package entropy

// useSIMD indicates SIMD is not available on this platform.
//
// This build previously declared a go:noescape entry point into
// hand-written NEON assembly (clearFlags_neon), but no corresponding
// .s file ships in this module, which would leave that symbol
// unresolved at link time. Until that assembly lands, arm64 shares the
// portable fallback with every other architecture.
const useSIMD = false

// clearFlagsFast uses a simple loop until a NEON kernel is added.
func clearFlagsFast(flags []T1Flags) {
	for i := range flags {
		flags[i] = 0
	}
}
