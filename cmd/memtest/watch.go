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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	watchInterval time.Duration
	watchRaw      bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch <pid>",
		Short: "Print the resident and virtual size of a process every interval",
		Long: `The watch command samples VmRSS and VmSize from /proc/<pid>/status until
the process exits. Run it next to a program that allocates through memquota
to check that the ceiling holds as the kernel sees it.

Example:
  memtest watch $(pidof geth) --interval 1s > usage.log
  memtest watch self --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := args[0]
			if pid != "self" {
				if _, err := strconv.Atoi(pid); err != nil {
					return errors.Errorf("invalid pid %q", pid)
				}
			}
			return watch(cmd.OutOrStdout(), statusPath(pid), watchInterval)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Time between samples")
	cmd.Flags().BoolVar(&watchRaw, "raw", false, "Print sizes in bytes instead of humanized")
	rootCmd.AddCommand(cmd)
}

func statusPath(pid string) string {
	return filepath.Join("/proc", pid, "status")
}

// usage is one sample of a process's memory footprint, in bytes.
type usage struct {
	RSS  uint64
	Size uint64
}

func (u usage) String() string {
	if watchRaw {
		return fmt.Sprintf("rss: %d size: %d", u.RSS, u.Size)
	}
	return fmt.Sprintf("rss: %s size: %s", humanize.IBytes(u.RSS), humanize.IBytes(u.Size))
}

// parseStatus extracts VmRSS and VmSize from the contents of a proc status
// file. The kernel reports both in KiB despite the "kB" suffix.
func parseStatus(r io.Reader) (usage, error) {
	var u usage
	var found int
	s := bufio.NewScanner(r)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		var dst *uint64
		switch fields[0] {
		case "VmRSS:":
			dst = &u.RSS
		case "VmSize:":
			dst = &u.Size
		default:
			continue
		}
		kib, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return usage{}, errors.Wrapf(err, "while parsing %s", fields[0])
		}
		*dst = kib << 10
		found++
	}
	if err := s.Err(); err != nil {
		return usage{}, errors.Wrap(err, "while reading status")
	}
	if found < 2 {
		// Kernel threads have neither line.
		return usage{}, errors.New("no VmRSS or VmSize in status")
	}
	return u, nil
}

func readStatus(path string) (usage, error) {
	f, err := os.Open(path)
	if err != nil {
		return usage{}, err
	}
	defer f.Close()
	return parseStatus(f)
}

// watch prints a timestamped sample every interval. It returns nil once the
// status file disappears, which is how a process exit shows up.
func watch(w io.Writer, path string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		u, err := readStatus(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(w, "%s is gone. Process exited.\n", path)
			return nil
		case err != nil:
			return err
		}
		fmt.Fprintf(w, "%s %s\n", time.Now().Format(time.RFC3339), u)
		<-ticker.C
	}
}
