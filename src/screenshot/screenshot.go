package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"
)

// Capture grabs the entire virtual screen across all active displays and
// returns it PNG-encoded.
func Capture() ([]byte, error) {
	img, err := CaptureImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %v", err)
	}
	return buf.Bytes(), nil
}

// CaptureImage grabs the virtual screen as a raw image.
func CaptureImage() (*image.RGBA, error) {
	bounds, err := VirtualBounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %v", err)
	}
	return img, nil
}

// VirtualBounds returns the union of all active display bounds.
func VirtualBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}

// PrimaryBounds returns the bounds of the primary display.
func PrimaryBounds() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	return screenshot.GetDisplayBounds(0), nil
}
