package codestream

import (
	"fmt"
)

// Header represents the main header of a JPEG 2000 codestream.
type Header struct {
	// SIZ marker data
	Profile       uint16
	ImageWidth    uint32
	ImageHeight   uint32
	ImageXOffset  uint32
	ImageYOffset  uint32
	TileWidth     uint32
	TileHeight    uint32
	TileXOffset   uint32
	TileYOffset   uint32
	NumComponents uint16
	ComponentInfo []ComponentInfo

	// Derived values
	NumTilesX uint32
	NumTilesY uint32

	// CAP marker data (Part 15 extended capabilities); zero value means
	// no CAP marker was present and the codestream is Part-1-only.
	Pcap uint32

	// COD marker data (default coding style)
	CodingStyle CodingStyleDefault

	// QCD marker data (default quantization)
	Quantization QuantizationDefault

	// Optional per-component coding styles (COC markers)
	ComponentCodingStyles map[uint16]CodingStyleComponent

	// Optional per-component quantization (QCC markers)
	ComponentQuantization map[uint16]QuantizationComponent

	// Optional region-of-interest (RGN marker)
	RegionOfInterest []RegionOfInterest

	// Optional markers
	ProgressionOrderChanges []ProgressionOrderChange
	TileLengths             []TileLength
	PacketLengths           []uint32
	PackedPacketHeaders     []byte
	Comment                 string
	CommentType             uint16
	ComponentRegistration   []ComponentRegistration
}

// ComponentInfo holds per-component size information from the SIZ marker.
type ComponentInfo struct {
	// Bit depth of the component (Ssiz).
	// If bit 7 is set, the component is signed.
	BitDepth uint8

	// Horizontal subsampling factor (XRsiz).
	SubsamplingX uint8

	// Vertical subsampling factor (YRsiz).
	SubsamplingY uint8
}

// Precision returns the bit precision (1-38).
func (c ComponentInfo) Precision() int {
	return int(c.BitDepth&0x7F) + 1
}

// IsSigned returns true if the component values are signed.
func (c ComponentInfo) IsSigned() bool {
	return c.BitDepth&0x80 != 0
}

// CodingStyleDefault holds data from the COD marker.
type CodingStyleDefault struct {
	// Scod: Coding style flags
	CodingStyle uint8

	// SGcod: Style for progressions
	ProgressionOrder    ProgressionOrder
	NumLayers           uint16
	MultipleComponentXf uint8

	// SPcod: Coding parameters
	NumDecompositions  uint8
	CodeBlockWidthExp  uint8
	CodeBlockHeightExp uint8
	CodeBlockStyle     uint8
	WaveletTransform   uint8

	// Precinct sizes (if CodingStylePrecincts is set)
	PrecinctSizes []PrecinctSize
}

// CodeBlockWidth returns the code block width.
func (c CodingStyleDefault) CodeBlockWidth() int {
	return 1 << (c.CodeBlockWidthExp + 2)
}

// CodeBlockHeight returns the code block height.
func (c CodingStyleDefault) CodeBlockHeight() int {
	return 1 << (c.CodeBlockHeightExp + 2)
}

// NumResolutions returns the number of resolution levels (R+1 per
// spec.md §3).
func (c CodingStyleDefault) NumResolutions() int {
	return int(c.NumDecompositions) + 1
}

// IsReversible returns true if the 5-3 reversible wavelet is used.
func (c CodingStyleDefault) IsReversible() bool {
	return c.WaveletTransform == 1
}

// PrecinctSize holds the precinct dimensions for a resolution level.
type PrecinctSize struct {
	WidthExp  uint8 // PPx: width exponent
	HeightExp uint8 // PPy: height exponent
}

// Width returns the precinct width.
func (p PrecinctSize) Width() int {
	return 1 << p.WidthExp
}

// Height returns the precinct height.
func (p PrecinctSize) Height() int {
	return 1 << p.HeightExp
}

// CodingStyleComponent holds data from a COC marker.
type CodingStyleComponent struct {
	ComponentIndex     uint16
	CodingStyle        uint8
	NumDecompositions  uint8
	CodeBlockWidthExp  uint8
	CodeBlockHeightExp uint8
	CodeBlockStyle     uint8
	WaveletTransform   uint8
	PrecinctSizes      []PrecinctSize
}

// QuantizationDefault holds data from the QCD marker.
type QuantizationDefault struct {
	// Sqcd: Quantization style and guard bits
	QuantizationStyle uint8
	NumGuardBits      uint8

	// SPqcd: Step sizes.
	// For no quantization: only exponents.
	// For scalar: mantissa and exponent pairs.
	StepSizes []StepSize
}

// Style returns the quantization style (0, 1, or 2).
func (q QuantizationDefault) Style() uint8 {
	return q.QuantizationStyle & 0x1F
}

// GuardBits returns the number of guard bits.
func (q QuantizationDefault) GuardBits() int {
	return int(q.NumGuardBits)
}

// StepSize represents a quantization step size (SPqcd/SPqcc entry).
//
// Value implements invariant I5: the quantization step size for the 9/7
// pipeline is (1 + mant/2048) * 2^(prec+gain-expn); here expn already
// encodes prec+gain per Annex E.1, so Value folds the -31 reference bias
// the same way the teacher's code does.
type StepSize struct {
	Mantissa uint16 // 11-bit mantissa
	Exponent uint8  // 5-bit exponent
}

// Value returns the step size as a float64.
func (s StepSize) Value() float64 {
	return (1 + float64(s.Mantissa)/2048.0) * float64(uint64(1)<<(31-s.Exponent))
}

// QuantizationComponent holds data from a QCC marker.
type QuantizationComponent struct {
	ComponentIndex    uint16
	QuantizationStyle uint8
	NumGuardBits      uint8
	StepSizes         []StepSize
}

// ProgressionOrderChange holds data from a POC marker.
type ProgressionOrderChange struct {
	ResolutionStart  uint8
	ComponentStart   uint16
	LayerEnd         uint16
	ResolutionEnd    uint8
	ComponentEnd     uint16
	ProgressionOrder ProgressionOrder
}

// TileLength holds tile-part length information from the TLM marker.
type TileLength struct {
	TileIndex uint16
	Length    uint32
}

// RegionOfInterest holds data from an RGN marker segment: a per-component
// upward bit-plane shift applied to ROI coefficients (Annex H).
type RegionOfInterest struct {
	ComponentIndex int
	Style          uint8 // Srgn: 0 = implicit (max-shift)
	Shift          uint8 // SPrgn
}

// ComponentRegistration holds a CRG marker's sub-pixel component grid
// offsets, informational only (no effect on decode).
type ComponentRegistration struct {
	XCRG uint16
	YCRG uint16
}

// TilePartHeader represents a tile-part header.
type TilePartHeader struct {
	TileIndex      uint16
	TilePartLength uint32
	TilePartIndex  uint8
	NumTileParts   uint8

	// Optional tile-specific coding parameters
	CodingStyle             *CodingStyleDefault
	ComponentCodingStyles   map[uint16]CodingStyleComponent
	Quantization            *QuantizationDefault
	ComponentQuantization   map[uint16]QuantizationComponent
	ProgressionOrderChanges []ProgressionOrderChange
	PackedPacketHeaders     []byte
}

// Validate checks the header for consistency, returning a
// CorruptCodestream-flavored error (wrapped by callers with ErrorKind).
func (h *Header) Validate() error {
	if h.ImageWidth == 0 || h.ImageHeight == 0 {
		return fmt.Errorf("invalid image dimensions: %dx%d", h.ImageWidth, h.ImageHeight)
	}

	if h.TileWidth == 0 || h.TileHeight == 0 {
		return fmt.Errorf("invalid tile dimensions: %dx%d", h.TileWidth, h.TileHeight)
	}

	if h.NumComponents == 0 || h.NumComponents > 16384 {
		return fmt.Errorf("invalid number of components: %d", h.NumComponents)
	}

	if len(h.ComponentInfo) != int(h.NumComponents) {
		return fmt.Errorf("component info mismatch: expected %d, got %d",
			h.NumComponents, len(h.ComponentInfo))
	}

	for i, comp := range h.ComponentInfo {
		if comp.SubsamplingX == 0 || comp.SubsamplingY == 0 {
			return fmt.Errorf("component %d: invalid subsampling: %dx%d",
				i, comp.SubsamplingX, comp.SubsamplingY)
		}
		prec := comp.Precision()
		if prec < 1 || prec > 38 {
			return fmt.Errorf("component %d: invalid precision: %d", i, prec)
		}
	}

	if h.CodingStyle.NumDecompositions > 32 {
		return fmt.Errorf("numresolution %d exceeds 33", h.CodingStyle.NumResolutions())
	}

	return nil
}

// IsHTJ2K reports whether the codestream uses the Part 15 high-throughput
// block coder, either because a CAP marker advertised it or because the
// default coding style's code-block style selects it directly.
func (h *Header) IsHTJ2K() bool {
	return h.Pcap&CapPcapHTJ2K != 0 || h.CodingStyle.CodeBlockStyle&CodeBlockHT != 0
}

// CalculateDerivedValues computes values derived from the main header.
func (h *Header) CalculateDerivedValues() {
	if h.TileWidth > 0 {
		h.NumTilesX = (h.ImageWidth - h.TileXOffset + h.TileWidth - 1) / h.TileWidth
	}
	if h.TileHeight > 0 {
		h.NumTilesY = (h.ImageHeight - h.TileYOffset + h.TileHeight - 1) / h.TileHeight
	}
}
