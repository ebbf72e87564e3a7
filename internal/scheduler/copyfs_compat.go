package scheduler

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copyFS copies the file tree rooted at src into the directory dir,
// mirroring the semantics of os.CopyFS(dir, os.DirFS(src)): directories
// are created with mode 0777 (before umask), files are created with
// O_EXCL (refusing to overwrite existing files) and mode 0666 plus any
// permission bits from the source, and symlinks are copied as links.
func copyFS(dir, src string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		newPath := filepath.Join(dir, rel)
		switch d.Type() {
		case fs.ModeDir:
			return os.MkdirAll(newPath, 0777)
		case fs.ModeSymlink:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, newPath)
		case 0:
			r, err := os.Open(path)
			if err != nil {
				return err
			}
			defer r.Close()
			info, err := r.Stat()
			if err != nil {
				return err
			}
			w, err := os.OpenFile(newPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666|info.Mode()&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, r); err != nil {
				w.Close()
				return &os.PathError{Op: "Copy", Path: newPath, Err: err}
			}
			return w.Close()
		default:
			return &os.PathError{Op: "CopyFS", Path: path, Err: os.ErrInvalid}
		}
	})
}
