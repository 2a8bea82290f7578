/*
SPDX-FileCopyrightText: Copyright (c) 2026 Jamsocket, Inc. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Version represents the version structure
type Version struct {
	Major    string `yaml:"major"`
	Minor    string `yaml:"minor"`
	Revision string `yaml:"revision"`
	Hash     string `yaml:"hash"`
}

// String returns the version as a string
func (v Version) String() string {
	return fmt.Sprintf("%s.%s.%s", v.Major, v.Minor, v.Revision)
}

// LoadVersionInfo loads the version from the version.yaml file in the same
// directory. The hash field carries the git hash of the build; nodes and
// controllers report both in their handshakes so skew across the fleet is
// visible in one query.
func LoadVersionInfo() (Version, error) {
	// Get the directory where this Go file is located
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return Version{}, fmt.Errorf("failed to get current file path")
	}

	dir := filepath.Dir(filename)
	versionPath := filepath.Join(dir, "version.yaml")

	data, err := os.ReadFile(versionPath)
	if err != nil {
		return Version{}, fmt.Errorf("failed to read version file: %w", err)
	}

	var version Version
	if err := yaml.Unmarshal(data, &version); err != nil {
		return Version{}, fmt.Errorf("failed to parse version file: %w", err)
	}

	return version, nil
}

// LoadVersion loads the version string, falling back to "dev" when the
// version file is missing or unparseable.
func LoadVersion() (string, error) {
	version, err := LoadVersionInfo()
	if err != nil {
		return "dev", err
	}
	return version.String(), nil
}
