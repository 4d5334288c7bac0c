// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv(EnableEnv, "")

	s, err := NewFromEnv()
	require.NoError(t, err)
	assert.Nil(t, s)

	// nil *Spooler 上调用都是安全的空操作
	s.Write([]byte("payload"))
	s.Close()
}

func TestNewFromEnvSpoolsCompressedFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.spool")
	t.Setenv(EnableEnv, "1")
	t.Setenv(PathEnv, path)

	s, err := NewFromEnv()
	require.NoError(t, err)
	require.NotNil(t, s)

	s.Write([]byte("hello"))
	s.Write([]byte("world"))
	s.Close()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}
