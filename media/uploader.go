// Package media implements the staging workflow for admin image fields: uploads land in a
// staging area, are promoted into permanent storage when a record is saved, and are
// deleted when a record drops or replaces them. A database mirror is kept in step with
// every primary write so other nodes can serve the same files.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/cppla/mediastage/storage"
)

const (
	msgSaveFailed   = "Something went wrong while saving the file(s)."
	msgMoveFailed   = "Something went wrong while moving the image."
	msgDeleteFailed = "Something went wrong while deleting the image."

	maxRenameAttempts = 100
	purgeBatchSize    = 100
)

var namePolicy = bluemonday.StrictPolicy()

// Mirror is the secondary replica of primary storage. Its failures abort the calling operation.
type Mirror interface {
	SaveFile(ctx context.Context, path string) error
	CopyFile(ctx context.Context, from, to string) error
	DeleteFile(ctx context.Context, path string) error
}

// Ledger remembers staged files so abandoned uploads can be purged.
type Ledger interface {
	Track(ctx context.Context, path string, expireAt time.Time) error
	Forget(ctx context.Context, path string) error
	Expired(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// URLResolver maps a path relative to the media root to a client-fetchable URL.
type URLResolver func(rel string) string

// BaseURLResolver prefixes relative paths with base, e.g. "https://cdn.example.com/media/".
func BaseURLResolver(base string) URLResolver {
	base = strings.TrimRight(base, "/")
	return func(rel string) string {
		return base + "/" + strings.TrimLeft(rel, "/")
	}
}

// Options configures the path layout and upload validation.
type Options struct {
	BasePath          string
	BaseTmpPath       string
	AllowedExtensions []string
	MaxUploadBytes    int64         // zero disables the limit
	StagingTTL        time.Duration // how long an unpromoted upload is kept
}

func (o Options) validate() error {
	base := strings.Trim(o.BasePath, "/")
	tmp := strings.Trim(o.BaseTmpPath, "/")
	switch {
	case base == "" || tmp == "":
		return errors.New("media: base path and staging base path are required")
	case base == tmp, strings.HasPrefix(base+"/", tmp+"/"), strings.HasPrefix(tmp+"/", base+"/"):
		return fmt.Errorf("media: staging path %q and permanent path %q must not overlap", tmp, base)
	case len(o.AllowedExtensions) == 0:
		return errors.New("media: at least one allowed extension is required")
	}
	return nil
}

// StagedFile describes an upload written into the staging area.
type StagedFile struct {
	FieldID      string `json:"field_id"`
	File         string `json:"file"` // generated name, relative to the staging base path
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	RelativePath string `json:"relative_path"` // relative to the media root
	Path         string `json:"path"`          // absolute staging directory
	TmpName      string `json:"tmp_name"`      // absolute location of the staged file
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	Type         string `json:"type"`
	Extension    string `json:"extension"`
}

// Uploader runs the staging workflow. It holds no per-call state and is safe for concurrent use.
type Uploader struct {
	store   storage.Storage
	mirror  Mirror
	ledger  Ledger
	urls    URLResolver
	log     *zap.Logger
	opts    Options
	allowed map[string]struct{}
	now     func() time.Time
}

// NewUploader validates opts and wires the collaborators.
func NewUploader(store storage.Storage, mirror Mirror, urls URLResolver, log *zap.Logger, opts Options) (*Uploader, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if mirror == nil {
		mirror = storage.NopMirror{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts.BasePath = strings.Trim(opts.BasePath, "/")
	opts.BaseTmpPath = strings.Trim(opts.BaseTmpPath, "/")
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &Uploader{
		store:   store,
		mirror:  mirror,
		urls:    urls,
		log:     log,
		opts:    opts,
		allowed: allowed,
		now:     time.Now,
	}, nil
}

// WithLedger enables tracking of staged files for PurgeExpired.
func (u *Uploader) WithLedger(l Ledger) *Uploader {
	u.ledger = l
	return u
}

func (u *Uploader) BasePath() string { return u.opts.BasePath }

func (u *Uploader) BaseTmpPath() string { return u.opts.BaseTmpPath }

// URL returns the public URL of a committed name, or "" for an empty name.
func (u *Uploader) URL(name string) string {
	if name == "" {
		return ""
	}
	return u.urls(FilePath(u.opts.BasePath, name))
}

// AcceptUpload validates the single file submitted under fieldID and writes it into staging.
func (u *Uploader) AcceptUpload(ctx context.Context, form *multipart.Form, fieldID string) (*StagedFile, error) {
	var headers []*multipart.FileHeader
	if form != nil {
		headers = form.File[fieldID]
	}
	switch {
	case len(headers) == 0:
		return nil, validationError("File was not uploaded.")
	case len(headers) > 1:
		return nil, validationError("Exactly one file must be uploaded.")
	}
	header := headers[0]

	ext := Extension(header.Filename)
	if _, ok := u.allowed[ext]; !ok {
		return nil, validationError("File type is not allowed.")
	}
	if u.opts.MaxUploadBytes > 0 && header.Size > u.opts.MaxUploadBytes {
		return nil, validationError("File exceeds the maximum upload size.")
	}

	src, err := header.Open()
	if err != nil {
		u.log.Error("open uploaded file", zap.String("field", fieldID), zap.Error(err))
		return nil, storageError(msgSaveFailed)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		u.log.Error("sniff uploaded file", zap.String("field", fieldID), zap.Error(err))
		return nil, storageError(msgSaveFailed)
	}

	name := CorrectFileName(header.Filename)
	rel, written, err := u.writeStaged(ctx, name, src)
	if err != nil {
		u.log.Error("write staged file", zap.String("name", name), zap.Error(err))
		return nil, storageError(msgSaveFailed)
	}
	stagedPath := FilePath(u.opts.BaseTmpPath, rel)

	if u.opts.MaxUploadBytes > 0 && written > u.opts.MaxUploadBytes {
		u.discard(ctx, stagedPath)
		return nil, validationError("File exceeds the maximum upload size.")
	}

	if err := u.mirror.SaveFile(ctx, stagedPath); err != nil {
		u.log.Error("mirror staged file", zap.String("path", stagedPath), zap.Error(err))
		u.discard(ctx, stagedPath)
		return nil, storageError(msgSaveFailed)
	}

	if u.ledger != nil && u.opts.StagingTTL > 0 {
		if err := u.ledger.Track(ctx, stagedPath, u.now().Add(u.opts.StagingTTL)); err != nil {
			u.log.Warn("track staged file", zap.String("path", stagedPath), zap.Error(err))
		}
	}

	abs := slashes(u.store.AbsolutePath(stagedPath))
	return &StagedFile{
		FieldID:      fieldID,
		File:         rel,
		Name:         rel,
		OriginalName: namePolicy.Sanitize(header.Filename),
		RelativePath: stagedPath,
		Path:         slashes(u.store.AbsolutePath(u.opts.BaseTmpPath)),
		TmpName:      abs,
		URL:          u.urls(stagedPath),
		Size:         written,
		Type:         mtype.String(),
		Extension:    ext,
	}, nil
}

// writeStaged disperses name into sub-directories and stores src under the first free
// candidate, appending _1, _2, ... while a name is taken in staging or permanent storage.
// The write itself refuses to replace a file, so concurrent uploads of one name end up
// with distinct names.
func (u *Uploader) writeStaged(ctx context.Context, name string, src io.ReadSeeker) (string, int64, error) {
	dir := DispersionPath(name)
	for n := 0; n < maxRenameAttempts+3; n++ {
		candidate := FilePath(dir, name)
		switch {
		case n >= maxRenameAttempts:
			candidate = FilePath(dir, numberedName(name, int(uuid.New().ID())))
		case n > 0:
			candidate = FilePath(dir, numberedName(name, n))
		}

		taken, err := u.nameTaken(ctx, candidate)
		if err != nil {
			return "", 0, err
		}
		if taken {
			continue
		}

		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return "", 0, err
		}
		var body io.Reader = src
		if u.opts.MaxUploadBytes > 0 {
			body = io.LimitReader(src, u.opts.MaxUploadBytes+1)
		}
		written, err := u.store.Create(ctx, FilePath(u.opts.BaseTmpPath, candidate), body)
		if errors.Is(err, storage.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, err
		}
		return candidate, written, nil
	}
	return "", 0, fmt.Errorf("no free name for %q", name)
}

// nameTaken reports whether rel is in use as a staged or a committed file.
func (u *Uploader) nameTaken(ctx context.Context, rel string) (bool, error) {
	for _, base := range []string{u.opts.BaseTmpPath, u.opts.BasePath} {
		ok, err := u.store.Exists(ctx, FilePath(base, rel))
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Promote moves a staged file into permanent storage. The mirror is updated before the
// rename so a failed mirror write never leaves an unmirrored permanent file.
func (u *Uploader) Promote(ctx context.Context, name string) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	tmpPath := FilePath(u.opts.BaseTmpPath, name)
	permPath := FilePath(u.opts.BasePath, name)

	ok, err := u.store.Exists(ctx, tmpPath)
	if err != nil {
		u.log.Error("stat staged file", zap.String("path", tmpPath), zap.Error(err))
		return "", storageError(msgMoveFailed)
	}
	if !ok {
		return "", notFoundError(fmt.Sprintf("Temporary file %q does not exist.", name))
	}
	taken, err := u.store.Exists(ctx, permPath)
	if err != nil || taken {
		u.log.Error("permanent file already exists", zap.String("path", permPath), zap.Bool("taken", taken), zap.Error(err))
		return "", storageError(msgMoveFailed)
	}

	if err := u.mirror.CopyFile(ctx, tmpPath, permPath); err != nil {
		u.log.Error("mirror promoted file", zap.String("from", tmpPath), zap.String("to", permPath), zap.Error(err))
		return "", storageError(msgMoveFailed)
	}
	if err := u.store.Rename(ctx, tmpPath, permPath); err != nil {
		u.log.Error("move staged file", zap.String("from", tmpPath), zap.String("to", permPath), zap.Error(err))
		return "", storageError(msgMoveFailed)
	}

	u.forgetStaged(ctx, tmpPath)
	return name, nil
}

// CopyFromReference commits name from a file that is already reachable in media storage,
// given as a URL or path. Nothing happens when the reference is already the permanent file.
func (u *Uploader) CopyFromReference(ctx context.Context, name, ref string) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	permPath := FilePath(u.opts.BasePath, name)
	src := ReferencePath(ref)
	if src == permPath || ref == u.urls(permPath) {
		return name, nil
	}
	if src, err = CleanName(src); err != nil {
		return "", err
	}

	ok, err := u.store.Exists(ctx, src)
	if err != nil {
		u.log.Error("stat referenced file", zap.String("path", src), zap.Error(err))
		return "", storageError(msgSaveFailed)
	}
	if !ok {
		return "", notFoundError(fmt.Sprintf("Referenced file %q does not exist.", name))
	}

	if err := u.mirror.CopyFile(ctx, src, permPath); err != nil {
		u.log.Error("mirror copied file", zap.String("from", src), zap.String("to", permPath), zap.Error(err))
		return "", storageError(msgSaveFailed)
	}
	if err := u.store.Copy(ctx, src, permPath); err != nil {
		u.log.Error("copy referenced file", zap.String("from", src), zap.String("to", permPath), zap.Error(err))
		return "", storageError(msgSaveFailed)
	}
	return name, nil
}

// ReconcileField decides the committed value of an image field for one save.
//
// A deleted flag removes the existing file. A name plus URL commits the new file, then
// removes a superseded one; failing to remove the old file is logged and does not fail
// the save. Anything else keeps the existing value.
func (u *Uploader) ReconcileField(ctx context.Context, existing string, p *FieldPayload) (string, error) {
	switch {
	case p != nil && bool(p.Deleted):
		if err := u.DeleteCommitted(ctx, existing); err != nil {
			return existing, err
		}
		return "", nil

	case p != nil && p.Name != "" && p.URL != "":
		var committed string
		var err error
		if u.isStagedReference(p.Name, p.URL) {
			committed, err = u.Promote(ctx, p.Name)
		} else {
			committed, err = u.CopyFromReference(ctx, p.Name, p.URL)
		}
		if err != nil {
			return existing, err
		}
		if existing != "" && existing != committed {
			if err := u.DeleteCommitted(ctx, existing); err != nil {
				u.log.Warn("superseded image left in place", zap.String("name", existing), zap.Error(err))
			}
		}
		return committed, nil

	default:
		return existing, nil
	}
}

func (u *Uploader) isStagedReference(name, ref string) bool {
	clean, err := CleanName(name)
	if err != nil {
		return false
	}
	tmpPath := FilePath(u.opts.BaseTmpPath, clean)
	return ref == u.urls(tmpPath) || ReferencePath(ref) == tmpPath
}

// DeleteCommitted removes a committed file and its mirror copy. Empty names and missing
// files are no-ops.
func (u *Uploader) DeleteCommitted(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	name, err := CleanName(name)
	if err != nil {
		return err
	}
	p := FilePath(u.opts.BasePath, name)

	ok, err := u.store.Exists(ctx, p)
	if err != nil {
		u.log.Error("stat committed file", zap.String("path", p), zap.Error(err))
		return storageError(msgDeleteFailed)
	}
	if ok {
		if err := u.store.Delete(ctx, p); err != nil {
			u.log.Error("delete committed file", zap.String("path", p), zap.Error(err))
			return storageError(msgDeleteFailed)
		}
	}
	// the row may exist even when this node never had the file on disk
	if err := u.mirror.DeleteFile(ctx, p); err != nil {
		u.log.Error("delete mirrored file", zap.String("path", p), zap.Error(err))
		return storageError(msgDeleteFailed)
	}
	return nil
}

// PurgeExpired deletes staged files whose ledger expiry has passed and returns how many
// were removed. Individual failures are logged and retried on the next run.
func (u *Uploader) PurgeExpired(ctx context.Context) (int, error) {
	if u.ledger == nil {
		return 0, nil
	}
	paths, err := u.ledger.Expired(ctx, u.now(), purgeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired staged files: %w", err)
	}

	purged := 0
	for _, p := range paths {
		if !strings.HasPrefix(p, u.opts.BaseTmpPath+"/") {
			// never sweep outside staging, whatever the ledger says
			u.log.Warn("ledger entry outside staging", zap.String("path", p))
			_ = u.ledger.Forget(ctx, p)
			continue
		}
		if err := u.store.Delete(ctx, p); err != nil {
			u.log.Warn("purge staged file", zap.String("path", p), zap.Error(err))
			continue
		}
		if err := u.mirror.DeleteFile(ctx, p); err != nil {
			u.log.Warn("purge mirrored staged file", zap.String("path", p), zap.Error(err))
			continue
		}
		if err := u.ledger.Forget(ctx, p); err != nil {
			u.log.Warn("forget staged file", zap.String("path", p), zap.Error(err))
			continue
		}
		purged++
	}
	return purged, nil
}

// discard removes a staged file after a failed upload.
func (u *Uploader) discard(ctx context.Context, p string) {
	if err := u.store.Delete(ctx, p); err != nil {
		u.log.Warn("discard staged file", zap.String("path", p), zap.Error(err))
	}
}

// forgetStaged drops bookkeeping for a staged file that was moved away.
func (u *Uploader) forgetStaged(ctx context.Context, p string) {
	if err := u.mirror.DeleteFile(ctx, p); err != nil {
		u.log.Warn("drop mirrored staged file", zap.String("path", p), zap.Error(err))
	}
	if u.ledger != nil {
		if err := u.ledger.Forget(ctx, p); err != nil {
			u.log.Warn("forget staged file", zap.String("path", p), zap.Error(err))
		}
	}
}

func slashes(p string) string { return strings.ReplaceAll(p, "\\", "/") }
