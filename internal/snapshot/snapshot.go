// Package snapshot writes cropped detection JPEGs plus a CBOR metadata
// sidecar to ./detections/ on demand (spec.md §6 "Filesystem side effects").
package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/rkvision/edgestream/internal/nn"
)

// Meta is the sidecar written alongside every crop: the spec only names the
// JPEG; the metadata record is a supplement so a downstream consumer
// doesn't have to re-parse the filename to recover the detection it came from.
type Meta struct {
	ChannelID  string    `cbor:"channel_id"`
	ClassName  string    `cbor:"class_name"`
	Confidence float64   `cbor:"confidence"`
	Box        nn.Box    `cbor:"box"`
	Timestamp  time.Time `cbor:"timestamp"`
}

// Writer persists "person" detection crops for one channel.
type Writer struct {
	channelID string
	dir       string
}

// NewWriter builds a Writer; dir is created lazily on the first Save call.
func NewWriter(channelID, dir string) *Writer {
	return &Writer{channelID: channelID, dir: dir}
}

// Save crops img to det's box and writes "<pts>_<class>_<prop>_<id>.jpg"
// plus a ".cbor" metadata sidecar with the same base name, where <id> is an
// 8-character random suffix; the name is never the bare
// "<pts>_<class>_<prop>.jpg". Only detections with a positive
// timestamp are saved, matching the original's pts > 0 guard. Errors are
// logged, never returned: a snapshot failure is frame-level, not
// channel-fatal (spec.md §7 "Transient frame-level").
func (w *Writer) Save(img *image.RGBA, det nn.Detection, pts time.Time) {
	if det.ClassName != "person" {
		return
	}
	if pts.UnixNano() <= 0 {
		return
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		log.Printf("[Snapshot:%s] mkdir %s: %v", w.channelID, w.dir, err)
		return
	}

	crop := cropRect(img, det.Box)
	if crop == nil {
		return
	}

	prop := int(det.Confidence * 100)
	// Two detections in the same frame share pts exactly; a short uuid
	// suffix keeps their crop/sidecar pairs from colliding on disk
	// (spec.md §6 names the pattern "<pts>_<class>_<prop>.jpg" but multiple
	// people in one frame all have the same pts and class).
	base := fmt.Sprintf("%d_%s_%d_%s", pts.UnixNano(), det.ClassName, prop, uuid.NewString()[:8])

	jpegPath := filepath.Join(w.dir, base+".jpg")
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		log.Printf("[Snapshot:%s] encode crop: %v", w.channelID, err)
		return
	}
	if err := os.WriteFile(jpegPath, buf.Bytes(), 0o644); err != nil {
		log.Printf("[Snapshot:%s] write %s: %v", w.channelID, jpegPath, err)
		return
	}

	meta := Meta{
		ChannelID:  w.channelID,
		ClassName:  det.ClassName,
		Confidence: det.Confidence,
		Box:        det.Box,
		Timestamp:  pts,
	}
	metaBytes, err := cbor.Marshal(meta)
	if err != nil {
		log.Printf("[Snapshot:%s] marshal metadata: %v", w.channelID, err)
		return
	}
	metaPath := filepath.Join(w.dir, base+".cbor")
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		log.Printf("[Snapshot:%s] write %s: %v", w.channelID, metaPath, err)
		return
	}

	log.Printf("[Snapshot:%s] saved %s (%.0f%% confidence)", w.channelID, jpegPath, det.Confidence*100)
}

func cropRect(img *image.RGBA, box nn.Box) *image.RGBA {
	bounds := img.Bounds()
	rect := image.Rect(int(box.Left), int(box.Top), int(box.Right), int(box.Bottom)).Intersect(bounds)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}
