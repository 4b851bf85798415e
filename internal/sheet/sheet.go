// Package sheet provides loading, decoding, and validation of scanned
// answer sheet images.
package sheet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"
)

// MaxUploadBytes caps the size of an uploaded sheet image.
const MaxUploadBytes = 10 << 20

// Sheet is one loaded source image awaiting processing.
type Sheet struct {
	Path   string      // Original file path, empty for uploads
	Image  image.Image // Decoded image data
	Format string      // Decoded format name ("png", "jpeg", "tiff")
	DPI    float64     // Scan resolution from metadata, 0 if unknown
}

// Load loads a sheet image from the specified path.
func Load(path string) (*Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	s, err := decode(file)
	if err != nil {
		return nil, err
	}
	s.Path = path

	// Try to extract DPI from TIFF metadata
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tiff" || ext == ".tif" {
		if dpi, err := extractTIFFDPI(path); err == nil {
			s.DPI = dpi
		}
	}

	return s, nil
}

// Decode decodes an uploaded sheet image from memory.
func Decode(data []byte) (*Sheet, error) {
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("image is %d bytes, limit is %d", len(data), MaxUploadBytes)
	}
	return decode(bytes.NewReader(data))
}

func decode(r io.Reader) (*Sheet, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Sheet{Image: img, Format: format}, nil
}

// Width returns the image width in pixels.
func (s *Sheet) Width() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (s *Sheet) Height() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dy()
}

// GrayMat converts the sheet image to a single-channel gocv Mat.
// The caller owns the returned Mat and must Close it.
func (s *Sheet) GrayMat() gocv.Mat {
	return GrayMatFromImage(s.Image)
}

// GrayMatFromImage converts any image.Image to an 8-bit grayscale Mat using
// ITU-R BT.601 luma weights. The caller owns the returned Mat.
func GrayMatFromImage(srcImg image.Image) gocv.Mat {
	bounds := srcImg.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mat.SetUCharAt(y, x, grayAt(srcImg, bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return mat
}

// grayAt returns the grayscale brightness (0-255) of the pixel at (x, y).
func grayAt(img image.Image, x, y int) uint8 {
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 24)
}

// GrayImageFromMat copies a single-channel Mat into an image.Gray. The Mat
// stays owned by the caller.
func GrayImageFromMat(mat gocv.Mat) *image.Gray {
	h, w := mat.Rows(), mat.Cols()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: mat.GetUCharAt(y, x)})
		}
	}
	return img
}

// ValidateUpload checks an upload's filename and declared size before any
// bytes are read.
func ValidateUpload(filename string, size int64) error {
	if !IsSupportedFormat(filename) {
		return fmt.Errorf("unsupported image format %q, supported: %s",
			filepath.Ext(filename), strings.Join(SupportedFormats(), ", "))
	}
	if size > MaxUploadBytes {
		return fmt.Errorf("image is %d bytes, limit is %d", size, MaxUploadBytes)
	}
	return nil
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}
}

// IsSupportedFormat checks if the given path has a supported image extension.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// extractTIFFDPI attempts to extract the scan resolution from TIFF metadata.
func extractTIFFDPI(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	// Read TIFF header to determine byte order
	header := make([]byte, 8)
	if _, err := io.ReadFull(file, header); err != nil {
		return 0, err
	}

	var byteOrder binary.ByteOrder
	switch {
	case header[0] == 'I' && header[1] == 'I':
		byteOrder = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		byteOrder = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a valid TIFF file")
	}

	// Seek to the first IFD and read its entry count
	ifdOffset := byteOrder.Uint32(header[4:8])
	if _, err := file.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return 0, err
	}
	var numEntries uint16
	if err := binary.Read(file, byteOrder, &numEntries); err != nil {
		return 0, err
	}

	var xRes, yRes float64
	var resUnit uint16 = 2 // default unit is inches

	for i := uint16(0); i < numEntries; i++ {
		entry := make([]byte, 12)
		if _, err := io.ReadFull(file, entry); err != nil {
			return 0, err
		}

		tag := byteOrder.Uint16(entry[0:2])
		fieldType := byteOrder.Uint16(entry[2:4])
		valueOffset := byteOrder.Uint32(entry[8:12])

		switch tag {
		case 282: // XResolution
			if fieldType == 5 { // RATIONAL
				xRes = readTIFFRational(file, int64(valueOffset), byteOrder)
			}
		case 283: // YResolution
			if fieldType == 5 {
				yRes = readTIFFRational(file, int64(valueOffset), byteOrder)
			}
		case 296: // ResolutionUnit
			if fieldType == 3 { // SHORT
				resUnit = uint16(valueOffset)
			}
		}
	}

	dpi := xRes
	if dpi == 0 {
		dpi = yRes
	}
	if resUnit == 3 {
		dpi *= 2.54 // centimeters to inches
	}
	if dpi == 0 {
		return 0, fmt.Errorf("no resolution tags found")
	}
	return dpi, nil
}

// readTIFFRational reads a RATIONAL value (two uint32s) from a TIFF file.
func readTIFFRational(file *os.File, offset int64, byteOrder binary.ByteOrder) float64 {
	currentPos, _ := file.Seek(0, io.SeekCurrent)
	defer file.Seek(currentPos, io.SeekStart)

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0
	}
	var num, denom uint32
	if err := binary.Read(file, byteOrder, &num); err != nil {
		return 0
	}
	if err := binary.Read(file, byteOrder, &denom); err != nil {
		return 0
	}

	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
