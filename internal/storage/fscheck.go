package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errDetectUnsupported is returned by detectFilesystemType on platforms
// without statfs; the local-disk check is skipped there.
var errDetectUnsupported = errors.New("filesystem detection unsupported")

var remoteFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

type fsDetector func(path string) (string, error)

// requireLocalDisk rejects database paths on a network mount. SQLite file
// locking is unreliable over NFS/SMB.
func requireLocalDisk(dbPath string, detect fsDetector) error {
	if dbPath == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	probe, err := closestExisting(dbPath)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", dbPath, err)
	}

	fsType, err := detect(probe)
	if errors.Is(err, errDetectUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", probe, err)
	}

	if isRemoteFilesystem(fsType) {
		return fmt.Errorf("audit database %q is on network filesystem %q; point audit.path at local disk", dbPath, fsType)
	}
	return nil
}

// closestExisting walks up from path until it finds something that exists.
func closestExisting(path string) (string, error) {
	cur, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for {
		_, err := os.Stat(cur)
		switch {
		case err == nil:
			return cur, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", cur, err)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		cur = parent
	}
}

func isRemoteFilesystem(fsType string) bool {
	_, ok := remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
