package media

import (
	"bytes"

	"github.com/disintegration/imaging"
)

const maxImageSide = 2048

// downscaleImage re-encodes images whose longest side exceeds maxImageSide.
// Undecodable data passes through untouched.
func downscaleImage(data []byte, mime string) ([]byte, string) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mime
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageSide && bounds.Dy() <= maxImageSide {
		return data, mime
	}

	if bounds.Dx() >= bounds.Dy() {
		img = imaging.Resize(img, maxImageSide, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxImageSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data, mime
	}
	return buf.Bytes(), "image/jpeg"
}
