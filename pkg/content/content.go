// Package content derives descriptive metadata for stored payloads: the file
// extension, the content type and, for raster images, the pixel dimensions.
package content

import (
	"bytes"
	"image"
	_ "image/gif" // register decoders for DecodeConfig
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SniffLen is how many leading payload bytes are offered to Inspect.
const SniffLen = 64 << 10

// DefaultType is used when neither the extension nor the bytes identify the payload.
const DefaultType = "application/octet-stream"

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	GIF  = "image/gif"
)

// Info is the derived description of a payload.
type Info struct {
	Name      string
	Extension string
	Type      string
	Width     int
	Height    int
}

// Inspector derives Info from a display name and the leading payload bytes.
type Inspector interface {
	Inspect(name string, prefix []byte) Info
}

// Detector is the default Inspector. When Sniff is set, payloads whose
// extension is unknown are identified from their bytes.
type Detector struct {
	Sniff bool
}

// Default sniffs unknown extensions.
var Default = Detector{Sniff: true}

func (d Detector) Inspect(name string, prefix []byte) Info {
	base, ext := SplitName(name)
	info := Info{Name: base, Extension: ext, Type: TypeOf(ext)}
	if info.Type == DefaultType && d.Sniff && len(prefix) > 0 {
		info.Type = Sniff(prefix)
	}
	if IsRaster(info.Type) {
		info.Width, info.Height, _ = Dimensions(prefix)
	}
	return info
}

// SplitName strips any directory from name and returns the base name and its
// lower-cased extension without the dot.
func SplitName(name string) (base, ext string) {
	base = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	return base, ext
}

// TypeOf maps an extension (without the dot) to a media type.
func TypeOf(ext string) string {
	if ext == "" {
		return DefaultType
	}
	t := mime.TypeByExtension("." + ext)
	if t == "" {
		return DefaultType
	}
	return t
}

// Sniff identifies a payload from its leading bytes.
func Sniff(prefix []byte) string {
	return mimetype.Detect(prefix).String()
}

// IsRaster reports whether t is a raster format Dimensions understands.
func IsRaster(t string) bool {
	base, _, err := mime.ParseMediaType(t)
	if err != nil {
		return false
	}
	switch base {
	case JPEG, PNG, GIF:
		return true
	}
	return false
}

// Dimensions reads the pixel size of a JPEG, PNG or GIF from its leading bytes.
func Dimensions(prefix []byte) (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(prefix))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
