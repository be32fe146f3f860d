// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package coretest

import (
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/lib/testutil"
)

const testData = "captured\x00stream\n"

// withStdStream replaces *std with temp file during test call.
func withStdStream(t *testing.T, std **os.File, test func(temp *os.File)) {
	temp, err := os.CreateTemp("", "coretest")
	require.NoError(t, err)
	defer func() {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
	}()
	backup := *std
	defer func() { *std = backup }()
	*std = temp
	test(temp)
}

func writeAndClose(t *testing.T, sink core.DataSink) {
	wc, err := sink.OpenSink()
	require.NoError(t, err)
	_, err = io.WriteString(wc, testData)
	require.NoError(t, err)
	require.NoError(t, wc.Close())
}

// AssertSinkEqualStdStream checks, that sink writes to *std, and doesn't close it.
func AssertSinkEqualStdStream(t *testing.T, std **os.File, newSink func() core.DataSink) {
	withStdStream(t, std, func(temp *os.File) {
		writeAndClose(t, newSink())
		_, err := temp.Seek(0, io.SeekStart)
		require.NoError(t, err, "std stream should not be closed")
		assert.Equal(t, testData, testutil.ReadString(t, temp))
	})
}

// AssertSinkEqualFile checks, that sink truncates file, and writes to it.
func AssertSinkEqualFile(t *testing.T, fs afero.Fs, filename string, sink core.DataSink) {
	require.NoError(t, afero.WriteFile(fs, filename, []byte("should be truncated"), 0644))
	writeAndClose(t, sink)
	testutil.AssertFileEqual(t, fs, filename, testData)
}

// AssertSourceEqualStdStream checks, that source reads from *std, and doesn't close it.
func AssertSourceEqualStdStream(t *testing.T, std **os.File, newSource func() core.DataSource) {
	withStdStream(t, std, func(temp *os.File) {
		_, err := io.WriteString(temp, testData)
		require.NoError(t, err)
		_, err = temp.Seek(0, io.SeekStart)
		require.NoError(t, err)

		rc, err := newSource().OpenSource()
		require.NoError(t, err)
		assert.Equal(t, testData, testutil.ReadString(t, rc))
		require.NoError(t, rc.Close())

		_, err = temp.Seek(0, io.SeekStart)
		assert.NoError(t, err, "std stream should not be closed")
	})
}

// AssertSourceEqualFile checks, that source reads filename content.
func AssertSourceEqualFile(t *testing.T, fs afero.Fs, filename string, source core.DataSource) {
	require.NoError(t, afero.WriteFile(fs, filename, []byte(testData), 0644))
	rc, err := source.OpenSource()
	require.NoError(t, err)
	assert.Equal(t, testData, testutil.ReadString(t, rc))
	assert.NoError(t, rc.Close())
}
