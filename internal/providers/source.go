package providers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrNoFrame is returned by a source that has nothing to deliver.
var ErrNoFrame = errors.New("no frame available")

// Source delivers camera frames.
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens the source for a device identifier.
type Opener func(device string) (Source, error)

// SyntheticSource renders a test pattern: a vertical gradient with a bright
// square that moves one step per frame.
type SyntheticSource struct {
	Width, Height int

	mu sync.Mutex
	n  int
}

// NewSyntheticSource creates a synthetic source of the given size.
func NewSyntheticSource(width, height int) *SyntheticSource {
	return &SyntheticSource{Width: width, Height: height}
}

// SyntheticOpener opens a 640x360 synthetic source for any device.
func SyntheticOpener(string) (Source, error) {
	return NewSyntheticSource(640, 360), nil
}

func (s *SyntheticSource) Read(context.Context) (image.Image, error) {
	s.mu.Lock()
	n := s.n
	s.n++
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for y := range s.Height {
		shade := uint8(40 + 120*y/max(s.Height, 1))
		for x := range s.Width {
			img.SetRGBA(x, y, color.RGBA{R: shade / 3, G: shade / 2, B: shade, A: 255})
		}
	}

	side := max(s.Height/6, 1)
	x0 := (n * 8) % max(s.Width-side, 1)
	y0 := s.Height/2 - side/2
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	return img, nil
}

func (s *SyntheticSource) Close() error { return nil }

// DirSource cycles through the JPEG and PNG files of a directory in name
// order. Decoded frames are cached.
type DirSource struct {
	files []string

	mu    sync.Mutex
	next  int
	cache map[string]image.Image
}

// NewDirSource lists the image files under dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("frames dir %s: %w", dir, ErrNoFrame)
	}
	slices.Sort(files)
	return &DirSource{files: files, cache: make(map[string]image.Image)}, nil
}

// DirOpener opens a DirSource over dir for any device.
func DirOpener(dir string) Opener {
	return func(string) (Source, error) {
		return NewDirSource(dir)
	}
}

func (s *DirSource) Read(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	if img, ok := s.cache[path]; ok {
		return img, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	s.cache[path] = img
	return img, nil
}

func (s *DirSource) Close() error { return nil }
