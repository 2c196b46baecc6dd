// Package captcha turns platform captcha images into answers: a cleanup
// pipeline plus pluggable recognizer for the static text captcha, and a
// template matcher for the slide puzzle.
package captcha

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	_ "image/gif"
	_ "image/jpeg"
)

// Recognizer classifies a cleaned captcha bitmap into its text code.
type Recognizer interface {
	Classify(img []byte) (string, error)
}

// TextSolver adapts a recognizer into a session captcha hook. The raw image
// is cleaned with PrepareText before classification.
func TextSolver(r Recognizer) func(img []byte) (string, error) {
	return func(img []byte) (string, error) {
		cleaned, err := PrepareText(img)
		if err != nil {
			return "", err
		}
		return r.Classify(cleaned)
	}
}

const binarizeThreshold = 190

// PrepareText cleans a text captcha for OCR: grayscale, binarize, invert so
// the glyphs are white on black, then dilate with a 3x2 kernel to reconnect
// strokes the noise filter broke.
func PrepareText(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode captcha: %v", err)
	}
	gray := toGray(src)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	bin := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range gray.Pix {
		if v > binarizeThreshold {
			bin.Pix[i] = 0
		} else {
			bin.Pix[i] = 255
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			for dy := -1; dy <= 1 && v == 0; dy++ {
				for dx := -1; dx <= 0; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || xx >= w || yy < 0 || yy >= h {
						continue
					}
					if bin.Pix[yy*w+xx] == 255 {
						v = 255
						break
					}
				}
			}
			out.Pix[y*w+x] = v
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Calibration compensates for the transparent left margin baked into the
// piece image. Subtracted from the raw match before the offset is reported.
const Calibration = 4

// Slide solves a slide puzzle and applies the calibration bias; it is shaped
// to plug straight into the exam cover flow.
func Slide(shade, cutout []byte) (int, int, error) {
	offset, width, err := SolveSlide(shade, cutout)
	if err != nil {
		return 0, 0, err
	}
	if offset > Calibration {
		offset -= Calibration
	}
	return offset, width, nil
}

// SolveSlide locates the puzzle piece in the background image and returns
// the raw best-match x offset plus the background width. The piece's own
// vertical position is recovered from its largest opaque region, a matching
// horizontal band is cropped from the background and the piece is slid
// across it under zero-mean normalized cross-correlation.
func SolveSlide(shade, cutout []byte) (int, int, error) {
	bg, _, err := image.Decode(bytes.NewReader(shade))
	if err != nil {
		return 0, 0, fmt.Errorf("decode shade image: %v", err)
	}
	piece, _, err := image.Decode(bytes.NewReader(cutout))
	if err != nil {
		return 0, 0, fmt.Errorf("decode cutout image: %v", err)
	}

	mask := pieceMask(piece)
	box, region := largestRegion(mask)
	if region == nil {
		return 0, 0, fmt.Errorf("cutout image has no piece region")
	}

	bgGray := toGray(bg)
	pieceGray := toGray(piece)
	bgW := bgGray.Bounds().Dx()
	bgH := bgGray.Bounds().Dy()
	tw := box.Dx()
	th := box.Dy()
	if tw == 0 || th == 0 || tw > bgW || box.Min.Y+th > bgH {
		return 0, 0, fmt.Errorf("piece region %v does not fit background %dx%d", box, bgW, bgH)
	}

	// Template and per-row band share the piece's vertical placement, so
	// the search is one-dimensional.
	tpl := make([]float64, 0, tw*th)
	tplMask := make([]bool, 0, tw*th)
	var tplSum float64
	var tplN int
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			v := float64(pieceGray.GrayAt(x, y).Y)
			on := region[y*mask.w+x]
			tpl = append(tpl, v)
			tplMask = append(tplMask, on)
			if on {
				tplSum += v
				tplN++
			}
		}
	}
	if tplN == 0 {
		return 0, 0, fmt.Errorf("cutout image has no piece region")
	}
	tplMean := tplSum / float64(tplN)
	var tplVar float64
	for i, v := range tpl {
		if tplMask[i] {
			tplVar += (v - tplMean) * (v - tplMean)
		}
	}

	bestX := 0
	bestScore := math.Inf(-1)
	for x0 := 0; x0 <= bgW-tw; x0++ {
		var winSum float64
		for i := 0; i < tw*th; i++ {
			if tplMask[i] {
				winSum += float64(bgGray.GrayAt(x0+i%tw, box.Min.Y+i/tw).Y)
			}
		}
		winMean := winSum / float64(tplN)
		var cross, winVar float64
		for i := 0; i < tw*th; i++ {
			if !tplMask[i] {
				continue
			}
			w := float64(bgGray.GrayAt(x0+i%tw, box.Min.Y+i/tw).Y) - winMean
			t := tpl[i] - tplMean
			cross += w * t
			winVar += w * w
		}
		denom := math.Sqrt(tplVar * winVar)
		if denom == 0 {
			continue
		}
		if score := cross / denom; score > bestScore {
			bestScore = score
			bestX = x0
		}
	}
	return bestX, bgW, nil
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	bounds := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.GrayModel.Convert(src.At(x, y)).(color.Gray))
		}
	}
	return out
}

type bitmask struct {
	w, h int
	bits []bool
}

// pieceMask marks the piece pixels of the cutout image. The piece ships on a
// transparent canvas, so the alpha channel is authoritative; fully opaque
// images fall back to a darkness threshold.
func pieceMask(src image.Image) *bitmask {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	m := &bitmask{w: w, h: h, bits: make([]bool, w*h)}
	opaque := true
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, a := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if a < 0xffff {
				opaque = false
			}
			m.bits[y*w+x] = a >= 0x8000
		}
	}
	if !opaque {
		return m
	}
	gray := toGray(src)
	for i, v := range gray.Pix {
		m.bits[i] = v < 128
	}
	return m
}

// largestRegion labels the 4-connected components of the mask and returns
// the bounding box and membership of the biggest one.
func largestRegion(m *bitmask) (image.Rectangle, []bool) {
	visited := make([]bool, m.w*m.h)
	var bestBox image.Rectangle
	var best []bool
	bestSize := 0
	stack := make([]int, 0, m.w)
	for start, on := range m.bits {
		if !on || visited[start] {
			continue
		}
		region := make([]bool, m.w*m.h)
		box := image.Rect(start%m.w, start/m.w, start%m.w+1, start/m.w+1)
		size := 0
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region[idx] = true
			size++
			x, y := idx%m.w, idx/m.w
			box = box.Union(image.Rect(x, y, x+1, y+1))
			for _, next := range [4]int{idx - 1, idx + 1, idx - m.w, idx + m.w} {
				if next < 0 || next >= m.w*m.h {
					continue
				}
				nx := next % m.w
				if (next == idx-1 || next == idx+1) && abs(nx-x) != 1 {
					continue
				}
				if m.bits[next] && !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		if size > bestSize {
			bestSize = size
			bestBox = box
			best = region
		}
	}
	return bestBox, best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
