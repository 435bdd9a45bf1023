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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimitFromEnv(t *testing.T) {
	const env = "MEMQUOTA_TEST_LIMIT"

	limit, err := limitFromEnv(env)
	require.NoError(t, err)
	require.Equal(t, DefaultLimit, limit)

	tests := []struct {
		val   string
		limit uint64
	}{
		{"1000", 1000},
		{" 4096 ", 4096},
		{"0", 0},
		{"512MiB", 512 << 20},
		{"2GB", 2000000000},
	}
	for _, tc := range tests {
		t.Setenv(env, tc.val)
		limit, err := limitFromEnv(env)
		require.NoError(t, err, tc.val)
		require.Equal(t, tc.limit, limit, tc.val)
	}

	for _, bad := range []string{"", "lots", "-5", "12 parsecs"} {
		t.Setenv(env, bad)
		limit, err := limitFromEnv(env)
		require.Error(t, err, bad)
		require.Equal(t, DefaultLimit, limit, bad)
	}
}
