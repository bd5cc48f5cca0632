package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// PlaneCache provides thread-safe caching of decoded plane files to avoid
// redundant disk reads.
//
// The cache stores decoded image.Image objects keyed by their file path. Once
// a plane is loaded, subsequent Load() calls for the same path return the
// cached copy without disk I/O.
//
// # Memory Management
//
// Cached planes remain in memory until explicitly removed via Evict() or
// Clear(). A workspace reset clears the cache.
type PlaneCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewPlaneCache creates and initializes a new empty plane cache.
func NewPlaneCache() *PlaneCache {
	return &PlaneCache{
		images: make(map[string]image.Image),
	}
}

// Load retrieves a plane from the cache or decodes it from disk if not cached.
//
// Supported formats are PNG, JPEG, GIF, BMP and TIFF (first page only). The
// image is cached using the exact path string provided.
func (c *PlaneCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Len returns the number of cached planes.
func (c *PlaneCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Clear removes all planes from the cache.
func (c *PlaneCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes a specific plane from the cache by its path.
// If the path is not in the cache, this method does nothing.
func (c *PlaneCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// LoadStack decodes the plane files in paths (XYCZT order) into a stack.
//
// When title is empty the stack is titled after the first file's name
// without extension.
func LoadStack(cache *PlaneCache, title string, paths []string, channels, slices, frames int) (*Stack, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no plane files given")
	}
	imgs := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := cache.Load(p)
		if err != nil {
			return nil, fmt.Errorf("plane %s: %w", p, err)
		}
		imgs = append(imgs, img)
	}
	if title == "" {
		base := filepath.Base(paths[0])
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return FromImages(title, imgs, channels, slices, frames)
}

// StackInfo contains metadata about a stack.
type StackInfo struct {
	Title      string `json:"title"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	Slices     int    `json:"slices"`
	Frames     int    `json:"frames"`
	BitDepth   int    `json:"bit_depth"`
	Planes     int    `json:"planes"`
	ColorDepth string `json:"color_depth"`
}

// Info summarises the stack's shape.
func (s *Stack) Info() *StackInfo {
	return &StackInfo{
		Title:      s.Title,
		Width:      s.Width,
		Height:     s.Height,
		Channels:   s.Channels,
		Slices:     s.Slices,
		Frames:     s.Frames,
		BitDepth:   s.BitDepth,
		Planes:     s.Size(),
		ColorDepth: fmt.Sprintf("%d-bit", s.BitDepth),
	}
}
