/*
 * Copyright 2024 Dgraph Labs, Inc. and Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	u, err := readStatus(filepath.Join("testdata", "status"))
	require.NoError(t, err)
	require.Equal(t, uint64(1530084)<<10, u.RSS)
	require.Equal(t, uint64(3201152)<<10, u.Size)
	require.Equal(t, "rss: 1.5 GiB size: 3.1 GiB", u.String())
}

func TestParseStatusKernelThread(t *testing.T) {
	_, err := parseStatus(strings.NewReader("Name:\tkworker/0:1\nState:\tI (idle)\n"))
	require.Error(t, err)

	_, err = parseStatus(strings.NewReader("VmSize:\t abc kB\nVmRSS:\t 1 kB\n"))
	require.Error(t, err)
}

func TestWatchUntilExit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	fixture, err := os.ReadFile(filepath.Join("testdata", "status"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, fixture, 0o644))

	time.AfterFunc(50*time.Millisecond, func() { os.Remove(path) })

	var out bytes.Buffer
	require.NoError(t, watch(&out, path, 10*time.Millisecond))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Greater(t, len(lines), 1)
	require.Contains(t, lines[0], "rss: 1.5 GiB size: 3.1 GiB")
	require.Contains(t, lines[len(lines)-1], "Process exited")
}
