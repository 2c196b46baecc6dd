package captcha

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// syntheticPair builds a noisy background and a cutout whose piece is an
// exact crop of the background at x offset k.
func syntheticPair(t *testing.T, k int) (shade, cutout []byte) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))

	bg := image.NewGray(image.Rect(0, 0, 320, 160))
	for i := range bg.Pix {
		bg.Pix[i] = uint8(rng.Intn(256))
	}

	const pieceY, pieceW, pieceH = 40, 48, 48
	piece := image.NewNRGBA(image.Rect(0, 0, 64, 160))
	for y := 0; y < pieceH; y++ {
		for x := 0; x < pieceW; x++ {
			v := bg.GrayAt(k+x, pieceY+y).Y
			piece.SetNRGBA(8+x, pieceY+y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	var bgBuf, pieceBuf bytes.Buffer
	require.NoError(t, png.Encode(&bgBuf, bg))
	require.NoError(t, png.Encode(&pieceBuf, piece))
	return bgBuf.Bytes(), pieceBuf.Bytes()
}

func TestSolveSlideFindsOffset(t *testing.T) {
	for _, k := range []int{17, 120, 251} {
		shade, cutout := syntheticPair(t, k)
		offset, width, err := SolveSlide(shade, cutout)
		require.NoError(t, err)
		require.Equal(t, 320, width)
		require.InDelta(t, k, offset, 2)
	}
}

func TestSlideAppliesCalibration(t *testing.T) {
	shade, cutout := syntheticPair(t, 200)
	raw, _, err := SolveSlide(shade, cutout)
	require.NoError(t, err)
	calibrated, width, err := Slide(shade, cutout)
	require.NoError(t, err)
	require.Equal(t, 320, width)
	require.Equal(t, raw-Calibration, calibrated)
}

func TestSolveSlideRejectsEmptyCutout(t *testing.T) {
	shade, _ := syntheticPair(t, 100)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 64, 160))))
	_, _, err := SolveSlide(shade, buf.Bytes())
	require.Error(t, err)
}

func TestPrepareTextInvertsGlyphs(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 40, 20))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	// A dark vertical stroke at x=10.
	for y := 5; y < 15; y++ {
		src.SetGray(10, y, color.Gray{Y: 30})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	cleaned, err := PrepareText(buf.Bytes())
	require.NoError(t, err)
	out, err := png.Decode(bytes.NewReader(cleaned))
	require.NoError(t, err)
	gray := out.(*image.Gray)

	require.EqualValues(t, 255, gray.GrayAt(10, 10).Y)
	// Dilation spreads the stroke to its neighbours.
	require.EqualValues(t, 255, gray.GrayAt(11, 10).Y)
	require.EqualValues(t, 0, gray.GrayAt(30, 10).Y)
}

type fixedRecognizer struct{ code string }

func (f fixedRecognizer) Classify([]byte) (string, error) { return f.code, nil }

func TestTextSolver(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	solve := TextSolver(fixedRecognizer{code: "abcd"})
	code, err := solve(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "abcd", code)

	_, err = solve([]byte("not an image"))
	require.Error(t, err)
}
