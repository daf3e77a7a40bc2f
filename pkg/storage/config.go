// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mp4mjpeg/pkg/log"
	"mp4mjpeg/pkg/video/mp4muxer"

	"gopkg.in/yaml.v3"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	Port int

	HomeDir    string
	StorageDir string
	ConfigDir  string

	ReuseLastFrame        bool
	IgnoreIdenticalFrames int
	Width                 int
	Height                int

	// Minimum free space in GB, 0 disables the check.
	MinDiskSpace float64
}

// Pointers distinguish unset values from zero.
type rawConfigEnv struct {
	Port       int    `yaml:"port"`
	HomeDir    string `yaml:"homeDir"`
	StorageDir string `yaml:"storageDir"`

	ReuseLastFrame        *bool   `yaml:"reuseLastFrame"`
	IgnoreIdenticalFrames *int    `yaml:"ignoreIdenticalFrames"`
	Width                 int     `yaml:"width"`
	Height                int     `yaml:"height"`
	MinDiskSpace          float64 `yaml:"minDiskSpace"`
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidValue    = errors.New("invalid value")
	ErrInvalidName     = errors.New("invalid file name")
)

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var raw rawConfigEnv
	if err := yaml.Unmarshal(envYAML, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	defaults := mp4muxer.DefaultOptions("")
	env := ConfigEnv{
		Port:       raw.Port,
		HomeDir:    raw.HomeDir,
		StorageDir: raw.StorageDir,
		ConfigDir:  filepath.Dir(envPath),

		ReuseLastFrame:        defaults.ReuseLastFrame,
		IgnoreIdenticalFrames: defaults.IgnoreIdenticalFrames,
		Width:                 raw.Width,
		Height:                raw.Height,
		MinDiskSpace:          raw.MinDiskSpace,
	}
	if raw.ReuseLastFrame != nil {
		env.ReuseLastFrame = *raw.ReuseLastFrame
	}
	if raw.IgnoreIdenticalFrames != nil {
		env.IgnoreIdenticalFrames = *raw.IgnoreIdenticalFrames
	}

	if env.Port == 0 {
		env.Port = 2020
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}

	if env.Port < 0 || env.Port > 65535 {
		return nil, fmt.Errorf("port %v: %w", env.Port, ErrInvalidValue)
	}
	if env.IgnoreIdenticalFrames < 0 {
		return nil, fmt.Errorf("ignoreIdenticalFrames %v: %w", env.IgnoreIdenticalFrames, ErrInvalidValue)
	}
	if env.Width < 0 || env.Width > 65535 || env.Height < 0 || env.Height > 65535 {
		return nil, fmt.Errorf("dimensions %vx%v: %w", env.Width, env.Height, ErrInvalidValue)
	}
	if env.MinDiskSpace < 0 {
		return nil, fmt.Errorf("minDiskSpace %v: %w", env.MinDiskSpace, ErrInvalidValue)
	}

	return &env, nil
}

// RecordingsDir return recordings directory.
func (env ConfigEnv) RecordingsDir() string {
	return filepath.Join(env.StorageDir, "recordings")
}

// LogDBPath returns the path of the log database.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.RecordingsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create recordings directory: %v: %w", env.StorageDir, err)
	}
	return nil
}

// RecordingPath returns the path of a recording in the recordings directory.
// The ".mp4" extension is added if missing.
func (env ConfigEnv) RecordingPath(name string) (string, error) {
	if name == "" ||
		name != filepath.Base(name) ||
		strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: '%v'", ErrInvalidName, name)
	}
	if filepath.Ext(name) != ".mp4" {
		name += ".mp4"
	}
	return filepath.Join(env.RecordingsDir(), name), nil
}

// MuxerOptions returns the muxer options for a file.
func (env ConfigEnv) MuxerOptions(path string, logger *log.Logger) mp4muxer.Options {
	return mp4muxer.Options{
		FileName:              path,
		ReuseLastFrame:        env.ReuseLastFrame,
		IgnoreIdenticalFrames: env.IgnoreIdenticalFrames,
		Width:                 env.Width,
		Height:                env.Height,
		Logger:                logger,
	}
}
