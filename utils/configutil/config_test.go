// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package configutil

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

func writeTempConfig(t *testing.T, content string) string {
	f, err := ioutil.TempFile("", "configutil_test_")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	filename := writeTempConfig(t, "name: foo\ntimeout: 5s\n")

	var c testConfig
	require.NoError(Load(filename, &c))
	require.Equal("foo", c.Name)
	require.Equal(5*time.Second, c.Timeout)
}

func TestLoadEmptyFilenameNoops(t *testing.T) {
	require := require.New(t)

	c := testConfig{Name: "default"}
	require.NoError(Load("", &c))
	require.Equal("default", c.Name)
}

func TestLoadErrors(t *testing.T) {
	require := require.New(t)

	var c testConfig
	require.Error(Load("nonexistent.yaml", &c))

	filename := writeTempConfig(t, "unknown_field: true\n")
	err := Load(filename, &c)
	require.Error(err)
	require.IsType(ValidationError{}, err)
}
