// Package attachment collects the files a user attaches while describing a problem.
package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxSize matches the storage backend's presign ceiling.
const DefaultMaxSize = 16 << 20

// DefaultExtensions is the backend's upload allow-list.
var DefaultExtensions = []string{
	"png", "jpg", "jpeg", "gif", "bmp", "webp",
	"pdf",
	"doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods",
	"txt", "csv", "log",
	"zip", "rar", "7z",
}

// File is an attachment waiting to be uploaded. Open returns a fresh reader
// over its bytes on every call.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// Ext returns the lower-case extension without the dot.
func (f File) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
}

// FromBytes wraps an in-memory payload. An empty mimeType is detected.
func FromBytes(name, mimeType string, data []byte) File {
	if mimeType == "" {
		mimeType = DetectType(name, data)
	}
	return File{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromPath stats a file on disk. The bytes are read lazily at upload time.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("attachment: stat: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("attachment: %s is a directory", path)
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		head := make([]byte, 512)
		if fh, err := os.Open(path); err == nil {
			n, _ := io.ReadFull(fh, head)
			fh.Close()
			mimeType = http.DetectContentType(head[:n])
		}
	}
	return File{
		Name:     name,
		MimeType: stripParams(mimeType),
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// DetectType guesses a MIME type from the name, then from the content.
func DetectType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return stripParams(t)
	}
	if len(data) > 512 {
		data = data[:512]
	}
	return stripParams(http.DetectContentType(data))
}

func stripParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return t
}

// ClipboardItem is pasted data together with its declared type.
type ClipboardItem struct {
	MimeType string
	Data     []byte
}

// IsImage reports whether the item carries image data.
func (c ClipboardItem) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(c.MimeType), "image/")
}

// ValidationError is returned for a file that cannot be accepted.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("attachment rejected: %s", e.Reason)
	}
	return fmt.Sprintf("attachment %q rejected: %s", e.Filename, e.Reason)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Policy decides which files may be uploaded.
type Policy struct {
	AllowedExtensions []string
	MaxSize           int64
	// StrictEntry applies CheckUpload when files are attached, not only
	// when they are about to be uploaded.
	StrictEntry bool
}

// DefaultPolicy returns the backend's limits with lenient entry checks.
func DefaultPolicy() Policy {
	return Policy{
		AllowedExtensions: append([]string(nil), DefaultExtensions...),
		MaxSize:           DefaultMaxSize,
	}
}

// CheckUpload validates a file against the allow-list and size ceiling.
func (p Policy) CheckUpload(f File) error {
	if f.Name == "" {
		return &ValidationError{Reason: "missing filename"}
	}
	if f.Size <= 0 {
		return &ValidationError{Filename: f.Name, Reason: "file is empty"}
	}
	if p.MaxSize > 0 && f.Size > p.MaxSize {
		return &ValidationError{
			Filename: f.Name,
			Reason:   fmt.Sprintf("file too large (max %dMB)", p.MaxSize>>20),
		}
	}
	if len(p.AllowedExtensions) > 0 && !p.allowed(f.Ext()) {
		return &ValidationError{Filename: f.Name, Reason: "file type not allowed"}
	}
	return nil
}

// CheckEntry validates a file as it is attached. Without StrictEntry, only
// files that could never be sent are rejected.
func (p Policy) CheckEntry(f File) error {
	if p.StrictEntry {
		return p.CheckUpload(f)
	}
	if f.Name == "" {
		return &ValidationError{Reason: "missing filename"}
	}
	if f.Open == nil {
		return &ValidationError{Filename: f.Name, Reason: "no content"}
	}
	return nil
}

func (p Policy) allowed(ext string) bool {
	if ext == "" {
		return false
	}
	for _, a := range p.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

// Manager applies list operations under a Policy. Lists are never modified
// in place; every operation returns a new slice.
type Manager struct {
	Policy Policy
	// Now names pasted items; defaults to time.Now.
	Now func() time.Time
}

// NewManager returns a Manager enforcing policy.
func NewManager(policy Policy) *Manager {
	return &Manager{Policy: policy}
}

// Add appends files in order. If any file fails the entry check, the list
// is returned unchanged together with the error.
func (m *Manager) Add(list []File, files ...File) ([]File, error) {
	for _, f := range files {
		if err := m.Policy.CheckEntry(f); err != nil {
			return list, err
		}
	}
	out := make([]File, 0, len(list)+len(files))
	out = append(out, list...)
	return append(out, files...), nil
}

// AddFromClipboard turns a pasted image into a file and appends it.
// Non-image items are rejected.
func (m *Manager) AddFromClipboard(list []File, item ClipboardItem) ([]File, File, error) {
	if !item.IsImage() {
		return list, File{}, &ValidationError{Reason: fmt.Sprintf("clipboard item %q is not an image", item.MimeType)}
	}
	if len(item.Data) == 0 {
		return list, File{}, &ValidationError{Reason: "clipboard image is empty"}
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	mimeType := stripParams(strings.ToLower(item.MimeType))
	f := FromBytes(pastedName(list, now(), imageExt(mimeType)), mimeType, item.Data)

	out, err := m.Add(list, f)
	if err != nil {
		return list, File{}, err
	}
	return out, f, nil
}

// pastedName stamps a pasted image to the millisecond and adds a counter
// when the list already holds that name.
func pastedName(list []File, t time.Time, ext string) string {
	base := fmt.Sprintf("pasted-%s-%03d", t.Format("20060102-150405"), t.Nanosecond()/int(time.Millisecond))
	name := base + "." + ext
	for n := 2; hasName(list, name); n++ {
		name = fmt.Sprintf("%s-%d.%s", base, n, ext)
	}
	return name
}

func hasName(list []File, name string) bool {
	for _, f := range list {
		if f.Name == name {
			return true
		}
	}
	return false
}

// RemoveAt drops the element at index i, keeping the others in order.
func (m *Manager) RemoveAt(list []File, i int) ([]File, error) {
	if i < 0 || i >= len(list) {
		return list, fmt.Errorf("attachment: index %d out of range (have %d)", i, len(list))
	}
	out := make([]File, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...), nil
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	}
	if sub := strings.TrimPrefix(mimeType, "image/"); sub != "" && sub != mimeType {
		return sub
	}
	return "png"
}
