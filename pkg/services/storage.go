package services

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrInvalidImage = errors.New("invalid image")

const (
	avatarSide     = 256
	avatarMaxBytes = 5 * 1024 * 1024
	avatarSubdir   = "avatars"
)

var allowedImageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff"}

// AvatarStorage keeps profile pictures on local disk below uploadDir. Files
// are served by the HTTP layer under baseURL.
type AvatarStorage struct {
	root    string
	baseURL string
	now     func() time.Time
}

type SavedImage struct {
	FilePath  string `json:"file_path"`
	PublicURL string `json:"public_url"`
	FileSize  int64  `json:"file_size"`
}

func NewAvatarStorage(uploadDir, baseURL string) *AvatarStorage {
	return &AvatarStorage{
		root:    filepath.Clean(uploadDir),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// SaveAvatar decodes the upload, crops it to a centered square and stores it
// as JPEG.
func (s *AvatarStorage) SaveAvatar(userID uint, r io.Reader, filename string) (*SavedImage, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !isAllowedExt(ext) {
		return nil, errors.Wrapf(ErrInvalidImage, "unsupported file type %q", ext)
	}
	raw, err := io.ReadAll(io.LimitReader(r, avatarMaxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	if len(raw) > avatarMaxBytes {
		return nil, errors.Wrap(ErrInvalidImage, "file too large, maximum size is 5MB")
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}
	img = imaging.Fill(img, avatarSide, avatarSide, imaging.Center, imaging.Lanczos)

	rel := path.Join(avatarSubdir, strconv.FormatUint(uint64(userID), 10),
		fmt.Sprintf("avatar_%d.jpg", s.now().UnixNano()))
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errors.Wrap(err, "create avatar dir")
	}
	if err := imaging.Save(img, full, imaging.JPEGQuality(85)); err != nil {
		return nil, errors.Wrap(err, "write avatar")
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, errors.Wrap(err, "stat avatar")
	}
	log.Info().Str("component", "storage").Uint("user_id", userID).Str("path", rel).Int64("bytes", info.Size()).Msg("avatar saved")
	return &SavedImage{FilePath: rel, PublicURL: s.URLFor(rel), FileSize: info.Size()}, nil
}

func (s *AvatarStorage) URLFor(rel string) string {
	if rel == "" {
		return ""
	}
	return s.baseURL + "/" + rel
}

// DeleteImage removes a stored avatar given its public URL or relative path.
// References outside the storage root are ignored.
func (s *AvatarStorage) DeleteImage(ref string) error {
	rel := strings.TrimPrefix(ref, s.baseURL+"/")
	if rel == "" || rel == ref && strings.Contains(ref, "://") {
		return nil
	}
	full := filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+rel)))
	if within, err := filepath.Rel(s.root, full); err != nil || strings.HasPrefix(within, "..") {
		log.Warn().Str("component", "storage").Str("ref", ref).Msg("refusing to delete outside upload dir")
		return nil
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete image")
	}
	return nil
}

func isAllowedExt(ext string) bool {
	for _, e := range allowedImageExts {
		if ext == e {
			return true
		}
	}
	return false
}
