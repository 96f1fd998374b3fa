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

// Package configutil provides an interface for loading and validating
// configuration data from YAML files.
package configutil

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ValidationError occurs when config data cannot be unmarshalled.
type ValidationError struct {
	err error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validate config: %s", e.err)
}

// Load reads and unmarshals the YAML file at filename into config. A missing
// filename is a no-op, leaving config to its zero (default) values.
func Load(filename string, config interface{}) error {
	if filename == "" {
		return nil
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config: %s", err)
	}
	if err := yaml.UnmarshalStrict(b, config); err != nil {
		return ValidationError{err}
	}
	return nil
}
