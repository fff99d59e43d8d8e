//go:build amd64

package dwt

// useSIMD indicates SIMD is not available on this platform.
//
// This build previously declared go:noescape entry points into
// hand-written AVX assembly (liftStep1_53_avx/liftStep2_53_avx/
// clearInt32Slice_avx), but no corresponding .s file ships in this
// module, which would leave those symbols unresolved at link time.
// Until that assembly lands, amd64 shares the portable fallback with
// every other architecture.
const useSIMD = false

// Forward53Fast falls back to the standard implementation until AVX
// lifting kernels are added.
func Forward53Fast(data []int32, length int) {
	Forward53(data, length)
}

// clearInt32SliceFast uses a simple loop until an AVX kernel is added.
func clearInt32SliceFast(data []int32) {
	for i := range data {
		data[i] = 0
	}
}
