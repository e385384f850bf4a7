// Package imaging computes perceptual image hashes and provides the
// downsizing helper the embedder client uses before upload. Hashes are
// stored on Photo.PHash/DHash as non-authoritative diagnostics only: Grouper
// clusters exclusively on embedding cosine similarity plus the configured
// time window (spec §4.5); nothing here feeds that decision. Compare exists
// so a caller can flag a photo whose embedding placed it in a cluster its
// perceptual hash disagrees with, without re-decoding the original blob.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"sort"
	"strconv"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Hashes holds the two perceptual hashes computed for one decoded image.
type Hashes struct {
	PHash     string // 64-bit DCT-based hash, hex encoded
	DHash     string // 64-bit adjacent-pixel difference hash, hex encoded
	PHashBits uint64
	DHashBits uint64
}

// hashGeometry bundles the resize target and bit layout shared by both hash
// kinds, so Compute has a single place describing how each is built instead
// of two independently-shaped functions.
type hashGeometry struct {
	width, height int
}

var (
	pHashGeometry = hashGeometry{width: 32, height: 32}
	dHashGeometry = hashGeometry{width: 9, height: 8}
)

// Compute decodes blob and returns its perceptual hashes. Returns an error if
// blob is not a decodable image (e.g. a video, or a malformed upload).
func Compute(blob []byte) (*Hashes, error) {
	img, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}

	p := dctHash(img)
	d := diffHash(img)

	return &Hashes{
		PHash:     fmt.Sprintf("%016x", p),
		DHash:     fmt.Sprintf("%016x", d),
		PHashBits: p,
		DHashBits: d,
	}, nil
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two hashes are within threshold bits of each other.
// A threshold around 10 is typical for near-duplicate detection at 64 bits.
func Similar(a, b uint64, threshold int) bool {
	return HammingDistance(a, b) <= threshold
}

// Comparison is the result of checking one photo's perceptual hashes against
// a reference (typically another member of the same duplicate group).
type Comparison struct {
	PHashDistance int  `json:"pHashDistance"`
	DHashDistance int  `json:"dHashDistance"`
	Consistent    bool `json:"consistent"`
}

// Compare reports how far b's hashes sit from a's, and whether they agree
// closely enough (both within threshold bits) to be called perceptually
// consistent. Used by the groups diagnostics endpoint to flag a photo whose
// embedding-based group membership its perceptual hash disagrees with —
// never by Grouper itself.
func Compare(a, b *Hashes, threshold int) Comparison {
	pd := HammingDistance(a.PHashBits, b.PHashBits)
	dd := HammingDistance(a.DHashBits, b.DHashBits)
	return Comparison{
		PHashDistance: pd,
		DHashDistance: dd,
		Consistent:    pd <= threshold && dd <= threshold,
	}
}

// ParseHashHex decodes a hex-encoded 64-bit hash as produced by Compute and
// stored on Photo.PHash/DHash, so a caller holding only the persisted strings
// (not a freshly-computed Hashes) can still run HammingDistance/Compare.
func ParseHashHex(hex string) (uint64, error) {
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("imaging: parse hash %q: %w", hex, err)
	}
	return v, nil
}

// Resize scales blob down to fit within maxSize on its longest edge, returning
// JPEG bytes. Returns the original blob unchanged if it already fits. Used by
// the embedder client to cap upload size before a photo reaches the model
// server.
func Resize(blob []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSize && h <= maxSize {
		return blob, nil
	}

	newW, newH := fitWithinSquare(w, h, maxSize)
	scaled := scaleTo(img, newW, newH)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("imaging: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithinSquare(w, h, maxSize int) (newW, newH int) {
	if w > h {
		return maxSize, int(float64(h) * float64(maxSize) / float64(w))
	}
	return int(float64(w) * float64(maxSize) / float64(h)), maxSize
}

// dctHash builds the 64-bit perceptual hash: shrink to a small square,
// run a 2D DCT, keep the 63 non-DC coefficients of the top-left 8x8 block
// plus one padding entry (see lowFrequencyCoefficients), and threshold each
// against their median.
func dctHash(img image.Image) uint64 {
	gray := grayscaleOf(img, pHashGeometry)
	coeffs := lowFrequencyCoefficients(dct2D(gray), 64)
	median := computeMedian(coeffs)

	var hash uint64
	for i, v := range coeffs {
		if v > median {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// lowFrequencyCoefficients reads dct in zig-zag-free row-major order over an
// 8x8 block, skipping the DC term. If the block doesn't fill count entries on
// its own, the remaining entries are filled with dct[i/8][i%8] for each
// remaining index i; for count 64 that repeats dct[7][7].
func lowFrequencyCoefficients(dct [][]float64, count int) []float64 {
	out := make([]float64, count)
	idx := 0
	for u := 0; u < 8 && idx < count; u++ {
		for v := 0; v < 8 && idx < count; v++ {
			if u == 0 && v == 0 {
				continue
			}
			out[idx] = dct[u][v]
			idx++
		}
	}
	for ; idx < count; idx++ {
		out[idx] = dct[idx/8][idx%8]
	}
	return out
}

// diffHash builds the 64-bit adjacent-pixel difference hash: shrink to a
// 9x8 grid and set a bit per row wherever brightness decreases left to right.
func diffHash(img image.Image) uint64 {
	gray := grayscaleOf(img, dHashGeometry)

	var hash uint64
	bit := 63
	for y := 0; y < dHashGeometry.height; y++ {
		for x := 0; x < dHashGeometry.width-1; x++ {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

func scaleTo(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// grayscaleOf resizes img to g's dimensions and converts to ITU-R BT.601 luma,
// indexed [x][y].
func grayscaleOf(img image.Image, g hashGeometry) [][]float64 {
	small := scaleTo(img, g.width, g.height)
	bounds := small.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := make([][]float64, width)
	for x := range gray {
		gray[x] = make([]float64, height)
		for y := range gray[x] {
			r, gr, b, _ := small.At(x, y).RGBA()
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(gr>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

// dct2D computes the Discrete Cosine Transform (DCT-II) of a square
// grayscale block.
func dct2D(gray [][]float64) [][]float64 {
	size := len(gray)
	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := range size {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	dct := make([][]float64, size)
	for u := range dct {
		dct[u] = make([]float64, size)
		for v := range dct[u] {
			var sum float64
			for x := 0; x < size; x++ {
				for y := 0; y < size; y++ {
					sum += gray[x][y] * cosTable[u][x] * cosTable[v][y]
				}
			}
			dct[u][v] = sum
		}
	}
	return dct
}

func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
