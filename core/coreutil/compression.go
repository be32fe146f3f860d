// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package coreutil

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	CompressionAuto = "auto"
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// ResolveCompression returns compression of file at path. Auto or empty compression
// is detected by file extension.
func ResolveCompression(path, compression string) (string, error) {
	switch strings.ToLower(compression) {
	case "", CompressionAuto:
	case CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, "gz":
		return CompressionGzip, nil
	case CompressionZstd, "zst":
		return CompressionZstd, nil
	default:
		return "", errors.Errorf("unknown compression %q", compression)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip, nil
	case ".zst", ".zstd":
		return CompressionZstd, nil
	}
	return CompressionNone, nil
}
