package jpeg2000

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/aswf/go-jpeg2000/internal/box"
	"github.com/aswf/go-jpeg2000/internal/codestream"
	"github.com/aswf/go-jpeg2000/internal/ratecontrol"
	"github.com/aswf/go-jpeg2000/internal/stream"
	"github.com/aswf/go-jpeg2000/internal/tcd"
	mct "github.com/aswf/go-jpeg2000/internal/transform"
)

// encoder handles JPEG 2000 encoding.
type encoder struct {
	w       io.Writer
	img     image.Image
	options *Options

	// Image parameters
	width         int
	height        int
	numComponents int
	precision     int
	signed        bool

	// Component data, full-image, DC-shifted and MCT'd but not yet
	// wavelet-transformed (the transform happens per tile in encodeTile).
	componentData [][]int32
}

// newEncoder creates a new encoder.
func newEncoder(w io.Writer, img image.Image, options *Options) *encoder {
	bounds := img.Bounds()
	return &encoder{
		w:       w,
		img:     img,
		options: options,
		width:   bounds.Dx(),
		height:  bounds.Dy(),
	}
}

// encode encodes the image.
func (e *encoder) encode() error {
	if err := e.extractImageData(); err != nil {
		return fmt.Errorf("extracting image data: %w", err)
	}

	if err := e.preprocess(); err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}

	body, err := e.generateCodestream()
	if err != nil {
		return fmt.Errorf("generating codestream: %w", err)
	}

	switch e.options.Format {
	case FormatJP2:
		return e.writeJP2(body)
	case FormatJ2K:
		_, err := e.w.Write(body)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", e.options.Format)
	}
}

// extractImageData extracts pixel data from the source image.
func (e *encoder) extractImageData() error {
	bounds := e.img.Bounds()

	// Determine image properties based on type
	switch img := e.img.(type) {
	case *image.Gray:
		e.numComponents = 1
		e.precision = 8
		e.componentData = make([][]int32, 1)
		e.componentData[0] = make([]int32, e.width*e.height)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				e.componentData[0][idx] = int32(img.GrayAt(x, y).Y)
			}
		}

	case *image.Gray16:
		e.numComponents = 1
		e.precision = 16
		e.componentData = make([][]int32, 1)
		e.componentData[0] = make([]int32, e.width*e.height)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				e.componentData[0][idx] = int32(img.Gray16At(x, y).Y)
			}
		}

	case *image.RGBA:
		e.numComponents = 3 // We'll ignore alpha for now
		e.precision = 8
		e.componentData = make([][]int32, 3)
		for c := 0; c < 3; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.RGBAAt(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
			}
		}

	case *image.RGBA64:
		e.numComponents = 3
		e.precision = 16
		e.componentData = make([][]int32, 3)
		for c := 0; c < 3; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.RGBA64At(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
			}
		}

	case *image.NRGBA:
		e.numComponents = 4
		e.precision = 8
		e.componentData = make([][]int32, 4)
		for c := 0; c < 4; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.NRGBAAt(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
				e.componentData[3][idx] = int32(c.A)
			}
		}

	case *image.NRGBA64:
		e.numComponents = 4
		e.precision = 16
		e.componentData = make([][]int32, 4)
		for c := 0; c < 4; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.NRGBA64At(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
				e.componentData[3][idx] = int32(c.A)
			}
		}

	default:
		// Generic fallback - convert to RGBA
		e.numComponents = 3
		e.precision = 8
		e.componentData = make([][]int32, 3)
		for c := 0; c < 3; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				r, g, b, _ := e.img.At(x, y).RGBA()
				e.componentData[0][idx] = int32(r >> 8)
				e.componentData[1][idx] = int32(g >> 8)
				e.componentData[2][idx] = int32(b >> 8)
			}
		}
	}

	// Apply precision override if specified
	if e.options.Precision > 0 && e.options.Precision <= 16 && e.options.Precision != e.precision {
		targetPrecision := e.options.Precision
		srcMax := int32((1 << e.precision) - 1)
		dstMax := int32((1 << targetPrecision) - 1)

		for c := 0; c < e.numComponents; c++ {
			for i := range e.componentData[c] {
				// Scale from source precision to target precision
				e.componentData[c][i] = e.componentData[c][i] * dstMax / srcMax
			}
		}
		e.precision = targetPrecision
	}

	return nil
}

// preprocess applies the pointwise transforms that are safe to run once
// over the whole image before tiling: DC level shift and the (reversible
// or irreversible) multi-component transform. The wavelet transform runs
// later, per tile, in encodeTile.
func (e *encoder) preprocess() error {
	for c := 0; c < e.numComponents; c++ {
		mct.DCLevelShiftForward(e.componentData[c], e.precision)
	}

	if e.numComponents >= 3 {
		if e.options.Lossless {
			mct.ForwardRCT(e.componentData[0], e.componentData[1], e.componentData[2])
		} else {
			compFloat := make([][]float64, 3)
			for c := 0; c < 3; c++ {
				compFloat[c] = make([]float64, len(e.componentData[c]))
				for i, v := range e.componentData[c] {
					compFloat[c][i] = float64(v)
				}
			}
			mct.ForwardICT(compFloat[0], compFloat[1], compFloat[2])
			for c := 0; c < 3; c++ {
				for i, v := range compFloat[c] {
					if v >= 0 {
						e.componentData[c][i] = int32(v + 0.5)
					} else {
						e.componentData[c][i] = int32(v - 0.5)
					}
				}
			}
		}
	}

	return nil
}

// numResolutions returns the configured number of resolution levels,
// defaulting to 6 (5 decompositions + 1) as DefaultOptions documents.
func (e *encoder) numResolutions() int {
	n := e.options.NumResolutions
	if n <= 0 {
		n = 6
	}
	return n
}

// numLayers returns the configured number of quality layers.
func (e *encoder) numLayers() int {
	n := e.options.NumLayers
	if n <= 0 {
		n = 1
	}
	return n
}

// codeBlockExponents returns the COD marker's code-block width/height
// exponents, honoring HTJ2K's block size restrictions when enabled.
func (e *encoder) codeBlockExponents() (widthExp, heightExp uint8) {
	if e.options.HighThroughput {
		htWidth := e.options.HTBlockWidth
		htHeight := e.options.HTBlockHeight
		if htWidth == 0 {
			htWidth = 128
		}
		if htHeight == 0 {
			htHeight = 128
		}
		switch htWidth {
		case 32:
			widthExp = 5
		default:
			widthExp = 7
		}
		switch htHeight {
		case 32:
			heightExp = 5
		default:
			heightExp = 7
		}
		return widthExp, heightExp
	}

	cbWidth := e.options.CodeBlockSize.X
	cbHeight := e.options.CodeBlockSize.Y
	if cbWidth <= 0 {
		cbWidth = 6
	}
	if cbHeight <= 0 {
		cbHeight = 6
	}
	return uint8(cbWidth - 2), uint8(cbHeight - 2)
}

// buildHeader constructs a main header from the encoder's options and
// extracted image parameters, the same fields generateSIZ/generateCOD/
// generateQCD used to hand-assemble before the Tier-2 pipeline existed.
func (e *encoder) buildHeader() *codestream.Header {
	numRes := e.numResolutions()
	cbWidthExp, cbHeightExp := e.codeBlockExponents()

	tileWidth := e.width
	tileHeight := e.height
	if e.options.TileSize.X > 0 {
		tileWidth = e.options.TileSize.X
	}
	if e.options.TileSize.Y > 0 {
		tileHeight = e.options.TileSize.Y
	}

	components := make([]codestream.ComponentInfo, e.numComponents)
	ssiz := uint8(e.precision - 1)
	if e.signed {
		ssiz |= 0x80
	}
	for c := range components {
		components[c] = codestream.ComponentInfo{BitDepth: ssiz, SubsamplingX: 1, SubsamplingY: 1}
	}

	scod := uint8(0)
	if e.options.EnableSOP {
		scod |= codestream.CodingStyleSOP
	}
	if e.options.EnableEPH {
		scod |= codestream.CodingStyleEPH
	}

	mctFlag := uint8(0)
	if e.numComponents >= 3 {
		mctFlag = 1
	}

	cbStyle := uint8(0)
	if e.options.HighThroughput {
		cbStyle |= codestream.CodeBlockHT
	}

	waveletTransform := uint8(0)
	if e.options.Lossless {
		waveletTransform = 1
	}

	h := &codestream.Header{
		Profile:       uint16(e.options.Profile),
		ImageWidth:    uint32(e.width),
		ImageHeight:   uint32(e.height),
		ImageXOffset:  uint32(e.options.ImageOffset.X),
		ImageYOffset:  uint32(e.options.ImageOffset.Y),
		TileWidth:     uint32(tileWidth),
		TileHeight:    uint32(tileHeight),
		TileXOffset:   uint32(e.options.TileOffset.X),
		TileYOffset:   uint32(e.options.TileOffset.Y),
		NumComponents: uint16(e.numComponents),
		ComponentInfo: components,
		CodingStyle: codestream.CodingStyleDefault{
			CodingStyle:         scod,
			ProgressionOrder:    codestream.ProgressionOrder(e.options.ProgressionOrder),
			NumLayers:           uint16(e.numLayers()),
			MultipleComponentXf: mctFlag,
			NumDecompositions:   uint8(numRes - 1),
			CodeBlockWidthExp:   cbWidthExp,
			CodeBlockHeightExp:  cbHeightExp,
			CodeBlockStyle:      cbStyle,
			WaveletTransform:    waveletTransform,
		},
		Quantization: e.buildQuantization(numRes),
	}
	if e.options.HighThroughput {
		h.Pcap = codestream.CapPcapHTJ2K
	}
	if e.options.Comment != "" {
		h.Comment = e.options.Comment
		h.CommentType = codestream.CommentLatin1
	}
	h.CalculateDerivedValues()
	return h
}

// buildQuantization builds the QCD marker data. Lossless mode emits one
// exponent per subband (no quantization); lossy mode emits a single
// scalar-derived step size whose coarseness tracks Options.Quality,
// mirroring the quality-to-stepsize mapping generateQCD used to compute
// directly from a raw SPqcd field.
func (e *encoder) buildQuantization(numRes int) codestream.QuantizationDefault {
	if e.options.Lossless {
		numBands := 3*(numRes-1) + 1
		steps := make([]codestream.StepSize, numBands)
		for i := range steps {
			steps[i] = codestream.StepSize{Exponent: uint8(e.precision + i/3)}
		}
		return codestream.QuantizationDefault{
			QuantizationStyle: codestream.QuantizationNone,
			NumGuardBits:      1,
			StepSizes:         steps,
		}
	}

	quality := e.options.Quality
	if quality <= 0 {
		quality = 100
	}
	if quality > 100 {
		quality = 100
	}
	exponent := uint8(e.precision)
	mantissa := uint16((100 - quality) * 2047 / 100)

	return codestream.QuantizationDefault{
		QuantizationStyle: codestream.QuantizationScalarDerived,
		NumGuardBits:      1,
		StepSizes:         []codestream.StepSize{{Mantissa: mantissa, Exponent: exponent}},
	}
}

// rateControlParams translates Options' PCRD fields into the tile-wide
// parameters internal/tcd.FormTileLayers needs.
func (e *encoder) rateControlParams(h *codestream.Header) tcd.RateControlParams {
	numLayers := e.numLayers()
	targets := make([]tcd.LayerTarget, numLayers)
	for l := 0; l < numLayers; l++ {
		var t tcd.LayerTarget
		if l < len(e.options.Rates) {
			// Rates is given in bytes per pixel-sample; scale to an
			// absolute byte budget for the whole image.
			t.Rate = e.options.Rates[l] * float64(e.width*e.height)
		}
		if l < len(e.options.DistoRatio) {
			t.DistoRatio = e.options.DistoRatio[l]
		}
		targets[l] = t
	}

	algo := ratecontrol.Simple
	if e.options.RateControlAlgorithm == RateControlFeasible {
		algo = ratecontrol.Feasible
	}

	maxSE := 0.0
	for c := 0; c < int(h.NumComponents); c++ {
		prec := h.ComponentInfo[c].Precision()
		peak := float64((int64(1) << uint(prec)) - 1)
		maxSE += peak * peak * float64(e.width*e.height)
	}

	return tcd.RateControlParams{
		Algorithm:    algo,
		DistoAlloc:   e.options.DistoAlloc,
		FixedQuality: e.options.FixedQuality,
		MaxSE:        maxSE,
		MaxBytes:     e.options.MaxComponentSize,
		Targets:      targets,
	}
}

// generateCodestream writes the main header and every tile-part to a
// growable in-memory codestream via internal/codestream.Writer.
func (e *encoder) generateCodestream() ([]byte, error) {
	h := e.buildHeader()

	mem := stream.NewMem()
	s := stream.NewOwning(mem)
	w := codestream.NewWriter(s)

	if err := w.WriteSOC(); err != nil {
		return nil, err
	}
	if err := w.WriteSIZ(h); err != nil {
		return nil, err
	}
	if h.Pcap != 0 {
		if err := w.WriteCAP(h.Pcap); err != nil {
			return nil, err
		}
	}
	if err := w.WriteCOD(&h.CodingStyle); err != nil {
		return nil, err
	}
	if err := w.WriteQCD(&h.Quantization); err != nil {
		return nil, err
	}
	if h.Comment != "" {
		if err := w.WriteCOM(h.CommentType, []byte(h.Comment)); err != nil {
			return nil, err
		}
	}

	numTiles := int(h.NumTilesX) * int(h.NumTilesY)
	if numTiles <= 0 {
		numTiles = 1
	}
	for t := 0; t < numTiles; t++ {
		if err := e.encodeTile(w, s, h, t); err != nil {
			return nil, fmt.Errorf("encoding tile %d: %w", t, err)
		}
	}

	if err := w.WriteEOC(); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	return mem.Bytes(), nil
}

// encodeTile runs one tile through geometry/DWT/Tier-1/PCRD/Tier-2 and
// writes its SOT/SOD tile-part to w.
func (e *encoder) encodeTile(w *codestream.Writer, s *stream.ByteStream, h *codestream.Header, tileIdx int) error {
	gt, tt := buildTileTree(h, tileIdx)

	for ci, tc := range gt.Components {
		window := copyImageWindow(e.componentData[ci], e.width, tc.Bounds.X0, tc.Bounds.Y0, tc.Bounds.X1, tc.Bounds.Y1)
		copy(tt.Components[ci].Data, window)
	}

	encodeTileCodeBlocks(h, tt)

	numLayers := e.numLayers()
	if numLayers > 1 || e.options.DistoAlloc || e.options.FixedQuality {
		tcd.FormTileLayers(tt, e.rateControlParams(h))
	}

	// Encode the tile body (every packet, in progression order) into a
	// scratch buffer first, so the SOT marker's TilePartLength is known
	// before it's written.
	bodyMem := stream.NewMem()
	pe := tcd.NewPacketEncoder(bodyMem)
	counts := precinctCounts(tt)
	pi := tcd.NewPacketIterator(e.numComponents, len(tt.Components[0].Resolutions), numLayers, counts, h.CodingStyle.ProgressionOrder)
	for {
		p, ok := pi.Next()
		if !ok {
			break
		}
		res := tt.Components[p.Component].Resolutions[p.Resolution]
		if p.Precinct >= len(res.Precincts) {
			continue
		}
		if err := pe.EncodePacket(res.Precincts[p.Precinct], p.Layer, e.options.EnableSOP, e.options.EnableEPH); err != nil {
			return err
		}
	}
	body := bodyMem.Bytes()

	if err := w.WriteSOT(&codestream.TilePartHeader{
		TileIndex:      uint16(tileIdx),
		TilePartLength: uint32(14 + len(body)),
		TilePartIndex:  0,
		NumTileParts:   1,
	}); err != nil {
		return err
	}
	if err := w.WriteSOD(); err != nil {
		return err
	}
	_, err := s.Write(body)
	return err
}

// writeJP2 writes a JP2 file.
func (e *encoder) writeJP2(codestream []byte) error {
	boxWriter := box.NewWriter(e.w)

	// Write signature
	if err := boxWriter.WriteSignature(); err != nil {
		return err
	}

	// Write file type box
	ftypBox := box.CreateFileTypeBox()
	if err := boxWriter.WriteBox(ftypBox); err != nil {
		return err
	}

	// Determine colorspace from options or default based on components
	var colorspace uint32
	switch e.options.ColorSpace {
	case ColorSpaceBilevel:
		colorspace = box.CSBilevel1
	case ColorSpaceGray:
		colorspace = box.CSGray
	case ColorSpaceSRGB:
		colorspace = box.CSSRGB
	case ColorSpaceSYCC:
		colorspace = box.CSYCbCr1
	case ColorSpaceYCbCr2:
		colorspace = box.CSYCbCr2
	case ColorSpaceYCbCr3:
		colorspace = box.CSYCbCr3
	case ColorSpacePhotoYCC:
		colorspace = box.CSPhotoYCC
	case ColorSpaceCMY:
		colorspace = box.CSCMY
	case ColorSpaceCMYK:
		colorspace = box.CSCMYK
	case ColorSpaceYCCK:
		colorspace = box.CSYCCK
	case ColorSpaceCIELab:
		colorspace = box.CSCIELab
	case ColorSpaceCIEJab:
		colorspace = box.CSCIEJab
	case ColorSpaceESRGB:
		colorspace = box.CSeSRGB
	case ColorSpaceROMMRGB:
		colorspace = box.CSROMMRGB
	case ColorSpaceYPbPr60:
		colorspace = box.CSYPbPr1125
	case ColorSpaceYPbPr50:
		colorspace = box.CSYPbPr1250
	case ColorSpaceEYCC:
		colorspace = box.CSeSYCC
	default:
		// Default based on number of components
		if e.numComponents == 1 {
			colorspace = box.CSGray
		} else {
			// 3 or 4 components default to sRGB (4th component is alpha)
			colorspace = box.CSSRGB
		}
	}

	// Write JP2 header
	jp2hBox := box.CreateJP2Header(
		uint32(e.width),
		uint32(e.height),
		uint16(e.numComponents),
		uint8(e.precision-1),
		colorspace,
	)
	if err := boxWriter.WriteBox(jp2hBox); err != nil {
		return err
	}

	// Write codestream
	jp2cBox := box.CreateCodestreamBox(codestream)
	if err := boxWriter.WriteBox(jp2cBox); err != nil {
		return err
	}

	return nil
}

// Ensure encoder implements required interfaces
var _ color.Model = (*encoder)(nil).colorModel()

func (e *encoder) colorModel() color.Model {
	return nil
}
