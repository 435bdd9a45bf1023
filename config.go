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

package memquota

import (
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	// DefaultLimit is the ceiling used when none is configured: 2 GiB.
	DefaultLimit uint64 = 2 << 30
	// LimitEnv is the environment variable holding the ceiling in bytes.
	LimitEnv = "MEMQUOTA_LIMIT"
)

// Config is passed to NewTracker. The zero value is usable.
type Config struct {
	// Limit is the maximum number of live bytes. Unless LimitSet is true, zero
	// means the limit is read from the environment variable named by LimitEnv
	// when the tracker bootstraps, falling back to DefaultLimit.
	Limit uint64
	// LimitSet makes Limit authoritative even when it is zero. A zero limit
	// denies every non-empty request.
	LimitSet bool
	// LimitEnv overrides the name of the environment variable, MEMQUOTA_LIMIT
	// by default.
	LimitEnv string
	// Resolve returns the real allocation primitives. It runs once, during
	// bootstrap, and defaults to the system allocator from package z. An error
	// terminates the process.
	Resolve func() (Primitives, error)
	// Logger receives diagnostics. Defaults to stderr at WARNING level.
	Logger Logger
	// Metrics is true when the tracker should keep counters of its activity.
	Metrics bool
}

// limitFromEnv reads the byte ceiling from the environment. Plain integers are
// bytes; humanized sizes such as "512MiB" or "2GB" are accepted too. A missing
// variable yields DefaultLimit. A malformed one yields DefaultLimit along with
// the parse error.
func limitFromEnv(name string) (uint64, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return DefaultLimit, nil
	}
	limit, err := humanize.ParseBytes(strings.TrimSpace(val))
	if err != nil {
		return DefaultLimit, errors.Wrapf(err, "while parsing %s=%q", name, val)
	}
	return limit, nil
}
