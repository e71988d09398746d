package store

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Queue identifies one of the two screenshot queues.
type Queue int

const (
	// QueueMain holds the screenshots of the problem itself.
	QueueMain Queue = iota
	// QueueExtra holds follow-up screenshots used for debug runs.
	QueueExtra
)

func (q Queue) String() string {
	if q == QueueExtra {
		return "extra"
	}
	return "main"
}

const (
	// DefaultMainLimit and DefaultExtraLimit bound queue length; adding past
	// the limit evicts the oldest entry.
	DefaultMainLimit  = 5
	DefaultExtraLimit = 2

	previewWidth = 320
)

// Store keeps the two ordered screenshot queues on disk under a single
// directory. Nothing survives a restart: Close wipes the directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	limits map[Queue]int
	queues map[Queue][]string
}

// New creates a store rooted at dir (a fresh temp dir when dir is empty).
// Limits <= 0 fall back to the defaults.
func New(dir string, mainLimit, extraLimit int) (*Store, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "screen-solver-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create screenshot dir: %v", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot dir: %v", err)
	}
	if mainLimit <= 0 {
		mainLimit = DefaultMainLimit
	}
	if extraLimit <= 0 {
		extraLimit = DefaultExtraLimit
	}
	return &Store{
		dir:    dir,
		limits: map[Queue]int{QueueMain: mainLimit, QueueExtra: extraLimit},
		queues: map[Queue][]string{QueueMain: nil, QueueExtra: nil},
	}, nil
}

// Dir returns the directory screenshots are written to.
func (s *Store) Dir() string { return s.dir }

// Add writes png to disk and appends its path to queue q, evicting the
// oldest entry when the queue is at its limit. Returns the stored path.
func (s *Store) Add(q Queue, data []byte) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.png", q, uuid.NewString()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q] = append(s.queues[q], path)
	if len(s.queues[q]) > s.limits[q] {
		oldest := s.queues[q][0]
		s.queues[q] = s.queues[q][1:]
		if err := os.Remove(oldest); err != nil {
			log.Printf("Store: failed to evict %s: %v", oldest, err)
		}
	}
	return path, nil
}

// Remove deletes path from whichever queue contains it. Returns false when
// no queue holds the path.
func (s *Store) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q, paths := range s.queues {
		for i, p := range paths {
			if p == path {
				s.queues[q] = append(paths[:i], paths[i+1:]...)
				if err := os.Remove(path); err != nil {
					log.Printf("Store: failed to remove %s: %v", path, err)
				}
				return true
			}
		}
	}
	return false
}

// Paths returns a copy of queue q's paths in insertion order.
func (s *Store) Paths(q Queue) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queues[q]...)
}

// Clear empties both queues and deletes their files.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for q, paths := range s.queues {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		s.queues[q] = nil
	}
	return firstErr
}

// Load reads the image bytes for every path, in order. Any single read
// failure fails the whole load.
func (s *Store) Load(paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read screenshot %s: %v", p, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Preview returns a downscaled base64 PNG data URL for the screenshot at
// path, suitable for direct use in an <img> tag.
func (s *Store) Preview(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read screenshot %s: %v", path, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode screenshot %s: %v", path, err)
	}

	small := downscale(img, previewWidth)
	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return "", fmt.Errorf("failed to encode preview: %v", err)
	}
	return fmt.Sprintf("data:image/png;base64,%s",
		base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// Close wipes the screenshot directory.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[QueueMain] = nil
	s.queues[QueueExtra] = nil
	return os.RemoveAll(s.dir)
}

// downscale resizes img to the given width with nearest-neighbor sampling,
// preserving aspect ratio. Images narrower than width are returned as-is.
func downscale(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width || b.Dx() == 0 {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := b.Min.Y + y*b.Dy()/height
		for x := 0; x < width; x++ {
			srcX := b.Min.X + x*b.Dx()/width
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}
