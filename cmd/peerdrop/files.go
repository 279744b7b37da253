package main

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/transfer"
)

const defaultMIMEType = "application/octet-stream"

// maxNameAttempts bounds the "name (n).ext" search when the target exists.
const maxNameAttempts = 1000

func detectMIMEType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return defaultMIMEType
}

// safeFileName strips any directory part a peer put in the announced name.
func safeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return "received.bin"
	}
	return base
}

// saveFile writes f into dir without overwriting an existing file and
// returns the path used.
func saveFile(dir string, f transfer.File) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := safeFileName(f.Name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := out.Write(f.Data); err != nil {
			out.Close()
			return "", err
		}
		return path, out.Close()
	}
	return "", fmt.Errorf("no free file name for %q in %s", name, dir)
}
