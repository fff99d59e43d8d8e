// Package geometry builds the tile/component/resolution/subband/
// precinct/code-block tree described by a codestream header for a
// single tile, and carries the per-subband quantization metadata (I4,
// I5) derived from it.
//
// Unlike the pointer-linked tree the rest of this pipeline's
// ancestry favors, the tree here is arena-indexed: every level holds a
// flat slice and child levels are referenced by integer index
// (ResolutionIdx, SubbandIdx, PrecinctIdx, CodeblockIdx) rather than by
// pointer. This keeps a whole tile's geometry in a handful of
// contiguous allocations and makes it trivial to hand a code-block or
// precinct to a worker by value.
package geometry

import "github.com/aswf/go-jpeg2000/internal/codestream"

// Band type constants, matching the LL/HL/LH/HH identifiers used
// throughout the DWT and entropy-coding stages.
const (
	BandLL = iota
	BandHL
	BandLH
	BandHH
)

// Rect is an axis-aligned, half-open integer rectangle [X0,X1) x [Y0,Y1).
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Width returns X1 - X0.
func (r Rect) Width() int { return r.X1 - r.X0 }

// Height returns Y1 - Y0.
func (r Rect) Height() int { return r.Y1 - r.Y0 }

// Empty reports whether the rectangle contains no samples.
func (r Rect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Codeblock is a single entropy-coded block within a subband.
type Codeblock struct {
	Bounds Rect

	// ZeroBitPlanes is the number of leading all-zero bit-planes,
	// signaled by the precinct's IMSB tag tree (I2/I3).
	ZeroBitPlanes int

	// NumPasses is the total number of coding passes available across
	// all layers once encoded.
	NumPasses int

	// IncludedInLayers tracks, for Tier-2 packet assembly, how many
	// passes have already been included in a prior layer of the
	// current packet iteration (I1).
	IncludedInLayers int

	// Data holds the packed, layer-concatenated entropy-coded bytes for
	// this code-block, indexed by pass boundary via PassEnds.
	Data []byte

	// PassEnds[i] is the cumulative byte length of Data after
	// coding pass i completes; len(PassEnds) == NumPasses.
	PassEnds []int
}

// Precinct groups the code-blocks of every subband at one resolution
// level that share a spatial region, for packet-level inclusion and
// MSB signaling via a per-subband pair of tag trees (P6).
type Precinct struct {
	Bounds Rect

	// CodeblockStart[b] and CodeblockCount[b] index into the owning
	// Subband's Codeblocks slice (CodeblockIdx) for the code-blocks
	// that fall inside this precinct, per subband within the
	// resolution.
	CodeblockStart []int
	CodeblockCount []int

	// CodeblockGridW[b]/CodeblockGridH[b] give this precinct's local
	// code-block grid dimensions for subband b, which size that
	// subband's tag-tree pair.
	CodeblockGridW []int
	CodeblockGridH []int

	// InclusionTree[b]/IMSBTree[b] are the per-subband inclusion and
	// most-significant-bit-plane tag trees a packet header walks to
	// signal which code-blocks are newly included in a layer and how
	// many leading bit-planes are all-zero (I2/I3).
	InclusionTree []*TagTree
	IMSBTree      []*TagTree
}

// Subband is one of a resolution level's LL/HL/LH/HH bands.
type Subband struct {
	Type   int
	Bounds Rect

	// StepSize is the quantization step size for this subband (I5),
	// derived from the QCD/QCC step-size table and the subband's gain.
	StepSize float64

	// Exponent/Mantissa mirror the wire encoding this step size was
	// derived from, kept for re-deriving NumGuardBits-relative
	// bit-plane counts during Tier-1 (I2).
	Exponent uint8
	Mantissa uint16

	CodeblockWidth, CodeblockHeight int
	CodeblocksX, CodeblocksY        int

	// Codeblocks holds every code-block of this subband in row-major
	// order; index with CodeblockIdx.
	Codeblocks []Codeblock
}

// CodeblockIdx resolves a code-block's (x,y) grid position within this
// subband to its index into Codeblocks.
func (s *Subband) CodeblockIdx(gx, gy int) int { return gy*s.CodeblocksX + gx }

// Resolution is one decomposition level of a tile-component.
type Resolution struct {
	Level  int
	Bounds Rect

	// PrecinctsX, PrecinctsY give the precinct grid dimensions at this
	// resolution; PrecinctIdx resolves a grid position to an index into
	// Precincts.
	PrecinctsX, PrecinctsY int

	// SubbandStart/SubbandCount index into the owning TileComponent's
	// Subbands slice (SubbandIdx): 1 band (LL) at level 0, 3 otherwise
	// (HL, LH, HH).
	SubbandStart, SubbandCount int

	Precincts []Precinct
}

// PrecinctIdx resolves a precinct's (x,y) grid position at this
// resolution to its index into Precincts.
func (r *Resolution) PrecinctIdx(px, py int) int { return py*r.PrecinctsX + px }

// TileComponent is one component's data within a tile.
type TileComponent struct {
	Index  int
	Bounds Rect

	// Data holds the component's samples after DC level shift and DWT,
	// row-major across Bounds.
	Data []int32

	// DataFloat mirrors Data for the 9/7 irreversible pipeline, which
	// works in floating point until final quantization.
	DataFloat []float64

	// ResolutionIdx resolves a resolution level (0 = coarsest, as
	// stored; NumResolutions()-1 = finest) to an index into
	// Resolutions. Resolutions is already in level order so this is the
	// identity map, kept named for symmetry with the other Idx helpers.
	Resolutions []Resolution

	// Subbands is the flat arena every Resolution's SubbandStart/
	// SubbandCount slice into.
	Subbands []Subband
}

// ResolutionIdx resolves a resolution level to its index into
// Resolutions.
func (tc *TileComponent) ResolutionIdx(level int) int { return level }

// SubbandIdx resolves a resolution's subband slot (0 for LL at level 0,
// otherwise 0=HL,1=LH,2=HH) to an index into Subbands.
func (tc *TileComponent) SubbandIdx(res *Resolution, slot int) int {
	return res.SubbandStart + slot
}

// Tile is one tile's full geometry across all components.
type Tile struct {
	Index  int
	Bounds Rect

	Components []TileComponent
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Build constructs the full geometry tree for the given tile index
// from the main (or tile-part) header, including precinct tag trees
// and per-subband quantization step sizes. A component's COC and QCC
// entries in the header, when present, replace the default coding style
// and quantization for that component.
func Build(h *codestream.Header, tileIndex int) *Tile {
	tileX := tileIndex % int(h.NumTilesX)
	tileY := tileIndex / int(h.NumTilesX)

	x0 := maxInt(int(h.TileXOffset)+tileX*int(h.TileWidth), int(h.ImageXOffset))
	y0 := maxInt(int(h.TileYOffset)+tileY*int(h.TileHeight), int(h.ImageYOffset))
	x1 := minInt(int(h.TileXOffset)+(tileX+1)*int(h.TileWidth), int(h.ImageWidth))
	y1 := minInt(int(h.TileYOffset)+(tileY+1)*int(h.TileHeight), int(h.ImageHeight))

	t := &Tile{
		Index:      tileIndex,
		Bounds:     Rect{x0, y0, x1, y1},
		Components: make([]TileComponent, h.NumComponents),
	}

	for c := 0; c < int(h.NumComponents); c++ {
		comp := h.ComponentInfo[c]
		cs := componentCodingStyle(h, uint16(c))
		qc := componentQuantization(h, uint16(c))

		cx0 := ceilDiv(x0, int(comp.SubsamplingX))
		cy0 := ceilDiv(y0, int(comp.SubsamplingY))
		cx1 := ceilDiv(x1, int(comp.SubsamplingX))
		cy1 := ceilDiv(y1, int(comp.SubsamplingY))

		tc := &t.Components[c]
		tc.Index = c
		tc.Bounds = Rect{cx0, cy0, cx1, cy1}
		tc.Data = make([]int32, (cx1-cx0)*(cy1-cy0))

		numRes := int(cs.NumDecompositions) + 1
		tc.Resolutions = make([]Resolution, numRes)

		for r := 0; r < numRes; r++ {
			buildResolution(tc, cs, qc, r)
		}
		t.Components[c] = *tc
	}

	return t
}

func componentCodingStyle(h *codestream.Header, comp uint16) codestream.CodingStyleDefault {
	if coc, ok := h.ComponentCodingStyles[comp]; ok {
		return codestream.CodingStyleDefault{
			CodingStyle:        coc.CodingStyle,
			ProgressionOrder:   h.CodingStyle.ProgressionOrder,
			NumLayers:          h.CodingStyle.NumLayers,
			NumDecompositions:  coc.NumDecompositions,
			CodeBlockWidthExp:  coc.CodeBlockWidthExp,
			CodeBlockHeightExp: coc.CodeBlockHeightExp,
			CodeBlockStyle:     coc.CodeBlockStyle,
			WaveletTransform:   coc.WaveletTransform,
			PrecinctSizes:      coc.PrecinctSizes,
		}
	}
	return h.CodingStyle
}

func componentQuantization(h *codestream.Header, comp uint16) codestream.QuantizationDefault {
	if qcc, ok := h.ComponentQuantization[comp]; ok {
		return codestream.QuantizationDefault{
			QuantizationStyle: qcc.QuantizationStyle,
			NumGuardBits:      qcc.NumGuardBits,
			StepSizes:         qcc.StepSizes,
		}
	}
	return h.Quantization
}

func buildResolution(tc *TileComponent, cs codestream.CodingStyleDefault, qc codestream.QuantizationDefault, level int) {
	// Bounds are tile-component-local (0-based), matching the buffer
	// internal/dwt's multi-level decompose/reconstruct actually produces:
	// the DWT has no notion of a tile's absolute image-space origin, so
	// indexing a subband or code-block against an absolute resolution
	// origin (as the JPEG 2000 standard's Annex B.5 formulas do, for
	// cross-tile precinct alignment) would desynchronize from where the
	// coefficients actually live in TileComponent.Data. Composing ceiling
	// division by powers of two is associative, so this local halving
	// still yields the same subband/code-block sizes the standard's
	// absolute-origin formulas would; only the origin is shifted to 0.
	scale := 1 << (int(cs.NumDecompositions) - level)
	rw := ceilDiv(tc.Bounds.Width(), scale)
	rh := ceilDiv(tc.Bounds.Height(), scale)

	res := &tc.Resolutions[level]
	res.Level = level
	res.Bounds = Rect{0, 0, rw, rh}

	ppx, ppy := precinctSize(cs, level)

	res.SubbandStart = len(tc.Subbands)
	if level == 0 {
		res.SubbandCount = 1
		tc.Subbands = append(tc.Subbands, buildSubband(res, BandLL, cs, qc, 0))
	} else {
		res.SubbandCount = 3
		tc.Subbands = append(tc.Subbands,
			buildSubband(res, BandHL, cs, qc, level),
			buildSubband(res, BandLH, cs, qc, level),
			buildSubband(res, BandHH, cs, qc, level),
		)
	}

	buildPrecincts(tc, res, ppx, ppy)
}

func precinctSize(cs codestream.CodingStyleDefault, level int) (int, int) {
	if cs.CodingStyle&codestream.CodingStylePrecincts != 0 && level < len(cs.PrecinctSizes) {
		p := cs.PrecinctSizes[level]
		return p.Width(), p.Height()
	}
	return 1 << 15, 1 << 15
}

func stepSizeFor(bandType int, level int, qc codestream.QuantizationDefault) (float64, uint8, uint16) {
	idx := 0
	if bandType != BandLL {
		idx = 3*(level-1) + bandType
		if qc.Style() == codestream.QuantizationScalarDerived {
			idx = 0
		}
	}
	if idx >= len(qc.StepSizes) {
		idx = len(qc.StepSizes) - 1
	}
	if idx < 0 {
		return 1.0, 0, 0
	}
	s := qc.StepSizes[idx]
	return s.Value(), s.Exponent, s.Mantissa
}

func buildSubband(res *Resolution, bandType int, cs codestream.CodingStyleDefault, qc codestream.QuantizationDefault, level int) Subband {
	b := Subband{Type: bandType}

	midX := (res.Bounds.X0 + res.Bounds.X1) / 2
	midY := (res.Bounds.Y0 + res.Bounds.Y1) / 2

	switch bandType {
	case BandLL:
		b.Bounds = res.Bounds
	case BandHL:
		// Top-right quadrant: horizontally high-pass, vertically low-pass.
		b.Bounds = Rect{midX, res.Bounds.Y0, res.Bounds.X1, midY}
	case BandLH:
		// Bottom-left quadrant: horizontally low-pass, vertically high-pass.
		b.Bounds = Rect{res.Bounds.X0, midY, midX, res.Bounds.Y1}
	case BandHH:
		b.Bounds = Rect{midX, midY, res.Bounds.X1, res.Bounds.Y1}
	}

	b.StepSize, b.Exponent, b.Mantissa = stepSizeFor(bandType, level, qc)

	b.CodeblockWidth = 1 << (cs.CodeBlockWidthExp + 2)
	b.CodeblockHeight = 1 << (cs.CodeBlockHeightExp + 2)
	b.CodeblocksX = ceilDiv(b.Bounds.Width(), b.CodeblockWidth)
	b.CodeblocksY = ceilDiv(b.Bounds.Height(), b.CodeblockHeight)

	n := b.CodeblocksX * b.CodeblocksY
	b.Codeblocks = make([]Codeblock, n)
	for i := 0; i < n; i++ {
		gx, gy := i%b.CodeblocksX, i/b.CodeblocksX
		b.Codeblocks[i] = Codeblock{Bounds: Rect{
			X0: b.Bounds.X0 + gx*b.CodeblockWidth,
			Y0: b.Bounds.Y0 + gy*b.CodeblockHeight,
			X1: minInt(b.Bounds.X0+(gx+1)*b.CodeblockWidth, b.Bounds.X1),
			Y1: minInt(b.Bounds.Y0+(gy+1)*b.CodeblockHeight, b.Bounds.Y1),
		}}
	}
	return b
}

func buildPrecincts(tc *TileComponent, res *Resolution, ppx, ppy int) {
	if res.Bounds.Empty() {
		res.PrecinctsX, res.PrecinctsY = 0, 0
		return
	}
	res.PrecinctsX = maxInt(1, ceilDiv(res.Bounds.Width(), ppx))
	res.PrecinctsY = maxInt(1, ceilDiv(res.Bounds.Height(), ppy))

	n := res.PrecinctsX * res.PrecinctsY
	res.Precincts = make([]Precinct, n)

	subbands := tc.Subbands[res.SubbandStart : res.SubbandStart+res.SubbandCount]

	for p := 0; p < n; p++ {
		px, py := p%res.PrecinctsX, p/res.PrecinctsX
		bounds := Rect{
			X0: res.Bounds.X0 + px*ppx,
			Y0: res.Bounds.Y0 + py*ppy,
			X1: minInt(res.Bounds.X0+(px+1)*ppx, res.Bounds.X1),
			Y1: minInt(res.Bounds.Y0+(py+1)*ppy, res.Bounds.Y1),
		}
		prec := &res.Precincts[p]
		prec.Bounds = bounds
		prec.CodeblockStart = make([]int, len(subbands))
		prec.CodeblockCount = make([]int, len(subbands))
		prec.CodeblockGridW = make([]int, len(subbands))
		prec.CodeblockGridH = make([]int, len(subbands))
		prec.InclusionTree = make([]*TagTree, len(subbands))
		prec.IMSBTree = make([]*TagTree, len(subbands))

		for bi := range subbands {
			sb := &subbands[bi]
			count := 0
			for gy := 0; gy < sb.CodeblocksY; gy++ {
				for gx := 0; gx < sb.CodeblocksX; gx++ {
					cb := &sb.Codeblocks[sb.CodeblockIdx(gx, gy)]
					if cb.Bounds.X0 >= bounds.X0 && cb.Bounds.X0 < bounds.X1 &&
						cb.Bounds.Y0 >= bounds.Y0 && cb.Bounds.Y0 < bounds.Y1 {
						if count == 0 {
							prec.CodeblockStart[bi] = sb.CodeblockIdx(gx, gy)
						}
						count++
					}
				}
			}
			prec.CodeblockCount[bi] = count
			gridW := maxInt(1, ceilDiv(bounds.Width(), sb.CodeblockWidth))
			gridH := maxInt(1, ceilDiv(bounds.Height(), sb.CodeblockHeight))
			prec.CodeblockGridW[bi] = gridW
			prec.CodeblockGridH[bi] = gridH
			prec.InclusionTree[bi] = NewTagTree(gridW, gridH)
			prec.IMSBTree[bi] = NewTagTree(gridW, gridH)
		}
	}
}
