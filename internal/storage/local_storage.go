package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/metrics"
)

// PublicPrefix is the URL prefix under which stored files are served.
const PublicPrefix = "uploads"

const megabyte = 1024 * 1024

// PolicyError reports an upload rejected by a Policy. Nothing has been written when it is returned.
type PolicyError struct {
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

// IsPolicyError reports whether err is a *PolicyError.
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// NamingFunc builds the stored filename from the client filename, the upload time and a random suffix.
type NamingFunc func(originalName string, now time.Time, suffix int64) string

// Policy describes what one upload purpose accepts and where it lands.
type Policy struct {
	Purpose      string
	SubDir       string
	AllowedTypes []string // exact types or "major/*"
	MaxFileSize  int64
	MaxFiles     int
	Naming       NamingFunc
	TypeError    string
}

// Policies holds the upload policy of every purpose.
type Policies struct {
	Listing   Policy
	Reel      Policy
	Profile   Policy
	CV        Policy
	BlogImage Policy
}

// DefaultPolicies builds the upload policies from configuration.
func DefaultPolicies(cfg *config.Config) Policies {
	large := int64(cfg.MaxLargeFileMB) * megabyte
	small := int64(cfg.MaxSmallFileMB) * megabyte
	return Policies{
		Listing: Policy{
			Purpose:      "listing",
			AllowedTypes: []string{"image/*", "video/*", "application/pdf"},
			MaxFileSize:  large,
			MaxFiles:     cfg.MaxListingFiles,
			Naming:       OriginalBaseNaming,
			TypeError:    "Nieobsługiwany typ pliku.",
		},
		Reel: Policy{
			Purpose:      "reel",
			SubDir:       "reels",
			AllowedTypes: []string{"video/*"},
			MaxFileSize:  large,
			MaxFiles:     1,
			Naming:       PrefixNaming("video"),
			TypeError:    "Tylko pliki wideo są dozwolone",
		},
		Profile: Policy{
			Purpose:      "profile",
			AllowedTypes: []string{"image/*"},
			MaxFileSize:  small,
			MaxFiles:     1,
			Naming:       OriginalBaseNaming,
			TypeError:    "Dozwolone są tylko pliki graficzne",
		},
		CV: Policy{
			Purpose:      "cv",
			SubDir:       "cv",
			AllowedTypes: []string{"application/pdf", "application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
			MaxFileSize:  small,
			MaxFiles:     1,
			Naming:       PrefixKeepOriginalNaming("cv"),
			TypeError:    "Dozwolone są tylko pliki PDF, DOC i DOCX",
		},
		BlogImage: Policy{
			Purpose:      "blog",
			AllowedTypes: []string{"image/*"},
			MaxFileSize:  large,
			MaxFiles:     1,
			Naming:       OriginalBaseNaming,
			TypeError:    "Dozwolone są tylko pliki graficzne",
		},
	}
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// SanitizeFilename keeps the base name of a client filename and replaces anything unsafe.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// OriginalBaseNaming yields "<base>-<unixms>-<rand><ext>".
func OriginalBaseNaming(originalName string, now time.Time, suffix int64) string {
	clean := SanitizeFilename(originalName)
	ext := filepath.Ext(clean)
	base := strings.TrimSuffix(clean, ext)
	if base == "" {
		base = "file"
	}
	return fmt.Sprintf("%s-%d-%d%s", base, now.UnixMilli(), suffix, ext)
}

// PrefixNaming yields "<prefix>-<unixms>-<rand><ext>".
func PrefixNaming(prefix string) NamingFunc {
	return func(originalName string, now time.Time, suffix int64) string {
		return fmt.Sprintf("%s-%d-%d%s", prefix, now.UnixMilli(), suffix, filepath.Ext(SanitizeFilename(originalName)))
	}
}

// PrefixKeepOriginalNaming yields "<prefix>-<unixms>-<rand>-<original>".
func PrefixKeepOriginalNaming(prefix string) NamingFunc {
	return func(originalName string, now time.Time, suffix int64) string {
		return fmt.Sprintf("%s-%d-%d-%s", prefix, now.UnixMilli(), suffix, SanitizeFilename(originalName))
	}
}

// StoredFile describes a file written by Save.
type StoredFile struct {
	Filename     string
	OriginalName string
	Path         string // public relative path, e.g. uploads/reels/video-1-2.mp4
	Mimetype     string
	Size         int64
}

// ILocalStorage stores uploads on local disk.
type ILocalStorage interface {
	Validate(policy Policy, files []*multipart.FileHeader) error
	Save(ctx context.Context, policy Policy, files []*multipart.FileHeader) ([]StoredFile, error)
	Remove(paths ...string)
	AbsPath(relPath string) (string, error)
	Root() string
}

type localStorage struct {
	root   string
	now    func() time.Time
	suffix func() int64
}

// NewLocalStorage creates a store rooted at dir. The directory is created on first write.
func NewLocalStorage(dir string) ILocalStorage {
	return &localStorage{
		root:   dir,
		now:    time.Now,
		suffix: func() int64 { return rand.Int63n(1e9) },
	}
}

func (s *localStorage) Root() string {
	return s.root
}

// DetectMimetype returns the declared content type of an upload without parameters.
// The filename extension is never consulted.
func DetectMimetype(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func (p Policy) allows(mimetype string) bool {
	for _, allowed := range p.AllowedTypes {
		if strings.HasSuffix(allowed, "/*") {
			if strings.HasPrefix(mimetype, strings.TrimSuffix(allowed, "*")) {
				return true
			}
		} else if mimetype == allowed {
			return true
		}
	}
	return false
}

// Validate checks count, type and size of every file without touching the disk.
func (s *localStorage) Validate(policy Policy, files []*multipart.FileHeader) error {
	if policy.MaxFiles > 0 && len(files) > policy.MaxFiles {
		return &PolicyError{Message: fmt.Sprintf("Maksymalna liczba plików to %d", policy.MaxFiles)}
	}
	for _, fh := range files {
		if !policy.allows(DetectMimetype(fh)) {
			msg := policy.TypeError
			if msg == "" {
				msg = "Nieobsługiwany typ pliku."
			}
			return &PolicyError{Message: fmt.Sprintf("%s (%s)", msg, fh.Filename)}
		}
		if policy.MaxFileSize > 0 && fh.Size > policy.MaxFileSize {
			return &PolicyError{Message: fmt.Sprintf("Plik %s jest za duży. Maksymalny rozmiar to %dMB", fh.Filename, policy.MaxFileSize/megabyte)}
		}
	}
	return nil
}

// Save validates every file first, then writes them all. If any write fails the
// files already written by this call are removed.
func (s *localStorage) Save(ctx context.Context, policy Policy, files []*multipart.FileHeader) ([]StoredFile, error) {
	if err := s.Validate(policy, files); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	dir := filepath.Join(s.root, policy.SubDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}

	stored := make([]StoredFile, 0, len(files))
	rollback := func() {
		paths := make([]string, len(stored))
		for i, f := range stored {
			paths[i] = f.Path
		}
		s.Remove(paths...)
		metrics.RecordMediaRolledBack(policy.Purpose, len(paths))
	}

	for _, fh := range files {
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, err
		}
		filename := policy.Naming(fh.Filename, s.now(), s.suffix())
		size, err := writeUpload(fh, filepath.Join(dir, filename))
		if err != nil {
			rollback()
			return nil, fmt.Errorf("failed to store %s: %w", fh.Filename, err)
		}
		stored = append(stored, StoredFile{
			Filename:     filename,
			OriginalName: fh.Filename,
			Path:         publicPath(policy.SubDir, filename),
			Mimetype:     DetectMimetype(fh),
			Size:         size,
		})
	}

	metrics.RecordMediaStored(policy.Purpose, len(stored))
	return stored, nil
}

func writeUpload(fh *multipart.FileHeader, dest string) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, err
	}
	return n, nil
}

func publicPath(subDir, filename string) string {
	if subDir == "" {
		return PublicPrefix + "/" + filename
	}
	return PublicPrefix + "/" + filepath.ToSlash(subDir) + "/" + filename
}

// AbsPath maps a public relative path to its location on disk. Paths escaping the root are rejected.
func (s *localStorage) AbsPath(relPath string) (string, error) {
	p := strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	p = strings.TrimPrefix(p, PublicPrefix+"/")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	full := filepath.Join(s.root, filepath.FromSlash(p))
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes upload root", relPath)
	}
	return full, nil
}

// Remove deletes stored files. Failures are logged and otherwise ignored.
func (s *localStorage) Remove(paths ...string) {
	for _, rel := range paths {
		if rel == "" {
			continue
		}
		full, err := s.AbsPath(rel)
		if err != nil {
			log.Printf("Refusing to remove %q: %v", rel, err)
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("Failed to remove stored file %s: %v", full, err)
		}
	}
}
