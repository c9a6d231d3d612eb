// Package admins persists the admin directory: a JSON document of privileged
// user ids and display aliases, with numbered backups rotated on every write
// and an atomic temp-file replace of the live file.
package admins

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hpungsan/modrelay/internal/errors"
)

// DefaultBackupCount is how many rotated copies are kept when none is configured.
const DefaultBackupCount = 3

// Admin is one directory entry.
type Admin struct {
	ID    int64  `json:"id"`
	Alias string `json:"alias"`
}

type document struct {
	Admins []Admin `json:"admins"`
}

// Directory is the admin list backed by a JSON file. A single mutex guards
// every read-modify-write.
type Directory struct {
	path     string
	backups  int
	reserved map[int64]bool

	mu sync.Mutex

	// beforeRename runs after the temp file is durable and before it replaces
	// the live file. A non-nil error aborts the write and leaves the temp file
	// behind, which is what a crash at that point looks like.
	beforeRename func(tempPath string) error
}

// Open loads or creates the directory at path. Reserved ids (the owner) can
// never be added. A live file that does not parse is an error; stray temp
// files from an interrupted write are removed.
func Open(path string, backupCount int, reserved ...int64) (*Directory, error) {
	if backupCount < 0 {
		backupCount = DefaultBackupCount
	}
	d := &Directory{
		path:     path,
		backups:  backupCount,
		reserved: make(map[int64]bool, len(reserved)),
	}
	for _, id := range reserved {
		d.reserved[id] = true
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create admin directory dir: %w", err)
	}
	if err := d.removeStrayTemps(); err != nil {
		return nil, err
	}

	doc, err := d.read()
	if stderrors.Is(err, fs.ErrNotExist) {
		if err := d.writeFile(document{Admins: []Admin{}}); err != nil {
			return nil, err
		}
		return d, nil
	}
	if err != nil {
		return nil, err
	}

	for _, a := range doc.Admins {
		if d.reserved[a.ID] {
			return nil, fmt.Errorf("admin file %s lists reserved id %d", path, a.ID)
		}
	}
	return d, nil
}

// Path returns the live file path.
func (d *Directory) Path() string {
	return d.path
}

// List returns all admins in file order.
func (d *Directory) List() ([]Admin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.read()
	if err != nil {
		return nil, err
	}
	return doc.Admins, nil
}

// Lookup returns the admin with the given id.
func (d *Directory) Lookup(id int64) (Admin, bool, error) {
	admins, err := d.List()
	if err != nil {
		return Admin{}, false, err
	}
	for _, a := range admins {
		if a.ID == id {
			return a, true, nil
		}
	}
	return Admin{}, false, nil
}

// Add stores a new admin. It returns false without writing when the id is
// already present. Reserved ids yield INVALID_REQUEST.
func (d *Directory) Add(id int64, alias string) (bool, error) {
	alias = strings.TrimSpace(alias)
	if id == 0 {
		return false, errors.NewInvalidRequest("admin id is required")
	}
	if alias == "" {
		return false, errors.NewInvalidRequest("admin alias is required")
	}
	if d.reserved[id] {
		return false, errors.NewInvalidRequest(fmt.Sprintf("user %d is the owner and cannot be an admin", id))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.read()
	if err != nil {
		return false, err
	}
	for _, a := range doc.Admins {
		if a.ID == id {
			return false, nil
		}
	}
	doc.Admins = append(doc.Admins, Admin{ID: id, Alias: alias})
	if err := d.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes an admin. It returns false when the id was not present.
func (d *Directory) Remove(id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.read()
	if err != nil {
		return false, err
	}
	kept := doc.Admins[:0:0]
	for _, a := range doc.Admins {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(doc.Admins) {
		return false, nil
	}
	doc.Admins = kept
	if err := d.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Directory) read() (document, error) {
	f, err := openFileNoFollowRead(d.path)
	if err != nil {
		return document{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return document{}, fmt.Errorf("read admin file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("admin file %s is malformed: %w", d.path, err)
	}
	if doc.Admins == nil {
		doc.Admins = []Admin{}
	}
	return doc, nil
}

// write rotates backups, then replaces the live file.
func (d *Directory) write(doc document) error {
	if err := d.rotate(); err != nil {
		return err
	}
	return d.writeFile(doc)
}

// backupPath returns the n-th backup: admins.json -> admins.bak<n>.
func (d *Directory) backupPath(n int) string {
	return strings.TrimSuffix(d.path, filepath.Ext(d.path)) + fmt.Sprintf(".bak%d", n)
}

// rotate deletes the oldest backup, shifts the others up by one and copies
// the live file into slot 1.
func (d *Directory) rotate() error {
	if d.backups == 0 {
		return nil
	}
	if _, err := os.Stat(d.path); stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := os.Remove(d.backupPath(d.backups)); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove oldest backup: %w", err)
	}
	for i := d.backups - 1; i >= 1; i-- {
		if err := os.Rename(d.backupPath(i), d.backupPath(i+1)); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("shift backup %d: %w", i, err)
		}
	}

	src, err := openFileNoFollowRead(d.path)
	if err != nil {
		return fmt.Errorf("open live file for backup: %w", err)
	}
	defer src.Close()
	dst, err := openFileNoFollow(d.backupPath(1), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy backup: %w", err)
	}
	return dst.Close()
}

// writeFile writes doc to a uniquely named temp file, syncs it and renames
// it over the live file, so readers see either the old or the new document.
func (d *Directory) writeFile(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.NewInternal(err)
	}
	data = append(data, '\n')

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := d.path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create temp file: %w", err))
	}

	keepTemp := false
	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success && !keepTemp {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close temp file: %w", err))
	}
	file = nil

	if d.beforeRename != nil {
		if err := d.beforeRename(tempPath); err != nil {
			keepTemp = true
			return err
		}
	}

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(d.path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("admin file is a symlink")
	}
	if err := os.Rename(tempPath, d.path); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to replace admin file: %w", err))
	}
	success = true
	return nil
}

func (d *Directory) removeStrayTemps() error {
	matches, err := filepath.Glob(d.path + ".*.tmp")
	if err != nil {
		return fmt.Errorf("glob temp files: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stray temp file: %w", err)
		}
	}
	return nil
}
