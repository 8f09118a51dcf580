package run

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Lock serializes writers of one data dir. `swarm run` holds it for the whole
// orchestration, so reconcile never sees a live run as interrupted; `runs
// prune` and `runs purge` take it before touching run dirs and workspaces.
// It is an advisory flock on <data>/locks/run.lock and dies with the process.
type Lock struct {
	file *os.File
}

func openLockFile(dataDir string) (*os.File, error) {
	locksDir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(locksDir, "run.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// AcquireLock blocks until no other swarm process writes to dataDir.
func AcquireLock(dataDir string) (*Lock, error) {
	file, err := openLockFile(dataDir)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock run.lock: %w", err)
	}
	return &Lock{file: file}, nil
}

// TryAcquireLock is AcquireLock without waiting. ok is false while a run or
// prune holds the data dir; purge uses it to refuse rather than queue.
func TryAcquireLock(dataDir string) (lock *Lock, ok bool, err error) {
	file, err := openLockFile(dataDir)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, false, nil
	}
	return &Lock{file: file}, true, nil
}

// Release unlocks the data dir. It is safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
