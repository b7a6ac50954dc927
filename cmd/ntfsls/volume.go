package main

import (
	"os"
	"runtime"
	"sync"

	"github.com/t9t/gontfs/fragment"
	"github.com/t9t/gontfs/mft"
)

const isWin = runtime.GOOS == "windows"

// guardedFileSystem is the "bolted on" concurrency wrapper the core intentionally leaves out: package mft's
// FileSystem is single-threaded by design, so any caller sharing one across goroutines (this CLI doesn't, but a
// long-running service built on top of it would) is expected to serialize access itself.
type guardedFileSystem struct {
	mu sync.RWMutex
	fs *mft.FileSystem
}

func openVolume(path string) (*guardedFileSystem, *os.File, error) {
	volumePath := path
	if isWin {
		volumePath = `\\.\` + path
	}
	f, err := os.Open(volumePath)
	if err != nil {
		return nil, nil, err
	}
	source := fragment.ReaderAtBlockSource{R: f}
	fs, err := mft.Open(source)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &guardedFileSystem{fs: fs}, f, nil
}

func (g *guardedFileSystem) withRLock(fn func(fs *mft.FileSystem) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.fs)
}
