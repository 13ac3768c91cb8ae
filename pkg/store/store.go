// Package store implements on-disk persistence for a project: a directory
// holding a project.penny header and an operations/ tree, one subdirectory
// per author, one file per operation.
package store

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"pennycrdt/core"
	"pennycrdt/pkg/utils"
)

const (
	headerFileName = "project.penny"
	operationsDir  = "operations"
	counterDigits  = 20
)

// HeaderPath returns the path to dir's project.penny header file.
func HeaderPath(dir string) string { return filepath.Join(dir, headerFileName) }

// Exists reports whether dir already holds a project header.
func Exists(dir string) bool {
	_, err := os.Stat(HeaderPath(dir))
	return err == nil
}

// SaveHeader writes info to dir/project.penny. It does not refuse to
// overwrite: the header is written once at project creation and is not
// touched again afterward.
func SaveHeader(dir string, info core.CRDTInfo) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.Wrap(err, "store: create project directory")
	}
	return utils.Wrap(os.WriteFile(HeaderPath(dir), info.Encode(), 0o644), "store: write header")
}

// LoadHeader reads and decodes dir/project.penny.
func LoadHeader(dir string) (core.CRDTInfo, error) {
	raw, err := os.ReadFile(HeaderPath(dir))
	if err != nil {
		return core.CRDTInfo{}, utils.Wrap(err, "store: read header")
	}
	return core.DecodeCRDTInfo(raw)
}

// authorDirName is the URL-safe base64 encoding of the author's raw public
// key bytes.
func authorDirName(pub core.UserPubKey) string {
	return base64.URLEncoding.EncodeToString([]byte(pub))
}

func authorPubKey(dirName string) (core.UserPubKey, error) {
	raw, err := base64.URLEncoding.DecodeString(dirName)
	if err != nil {
		return nil, core.NewError(core.DecodeError, "store: decode author directory name", err)
	}
	return core.UserPubKey(raw), nil
}

func operationFileName(counter uint32) string {
	return fmt.Sprintf("%0*d.pennyop", counterDigits, counter)
}

// Save writes every (counter, op) pair in flushed to
// dir/operations/<author>/<counter>.pennyop. It refuses to overwrite an
// existing file, surfacing StorageConflict: a counter collision for one
// author means one of the two operations was never legitimately assigned
// that counter, which is evidence of a programming error rather than
// something to silently paper over.
func Save[D core.Description](dir string, flushed map[uint32]core.Operation[D]) error {
	for counter, op := range flushed {
		authorDir := filepath.Join(dir, operationsDir, authorDirName(op.UserPubKey))
		if err := os.MkdirAll(authorDir, 0o755); err != nil {
			return utils.Wrap(err, "store: create author directory")
		}
		path := filepath.Join(authorDir, operationFileName(counter))

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return core.NewError(core.StorageConflict, fmt.Sprintf("store: %s already exists", path), err)
			}
			return utils.Wrap(err, "store: open operation file")
		}
		_, writeErr := f.Write(op.Encode())
		closeErr := f.Close()
		if writeErr != nil {
			return utils.Wrap(writeErr, "store: write operation file")
		}
		if closeErr != nil {
			return utils.Wrap(closeErr, "store: close operation file")
		}
	}
	return nil
}

// Load enumerates every author directory under dir/operations and decodes
// every operation file within, returning them in file (= numeric counter)
// order per author, concatenated across authors in directory-listing order.
// The engine's idempotency and causal-ordering logic makes the overall
// order callers feed these into Replica.Apply irrelevant.
func Load[D core.Description](dir string, decodeDesc func([]byte) (D, error)) ([]core.Operation[D], error) {
	root := filepath.Join(dir, operationsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, utils.Wrap(err, "store: list operations directory")
	}

	var ops []core.Operation[D]
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pub, err := authorPubKey(entry.Name())
		if err != nil {
			return nil, err
		}

		authorDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(authorDir)
		if err != nil {
			return nil, utils.Wrap(err, "store: list author directory")
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(authorDir, f.Name()))
			if err != nil {
				return nil, utils.Wrap(err, "store: read operation file")
			}
			op, err := core.DecodeOperation[D](raw, pub, decodeDesc)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}
	return ops, nil
}
