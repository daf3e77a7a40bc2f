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
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/require"
)

func newTestManager(minDiskSpace float64, used int64, free uint64) (*Manager, *int) {
	var calls int
	m := &Manager{
		env: &ConfigEnv{MinDiskSpace: minDiskSpace},
		disk: &diskCache{
			diskUsageBytes: func(fs.FS) int64 { return used },
			freeSpace: func(string) (*disk.UsageStat, error) {
				calls++
				return &disk.UsageStat{Free: free, UsedPercent: 42.5}, nil
			},
		},
	}
	return m, &calls
}

func TestDiskUsage(t *testing.T) {
	m, calls := newTestManager(0, 2*int64(gigabyte), 3000)

	usage, err := m.DiskUsage(time.Hour)
	require.NoError(t, err)

	expected := DiskUsage{
		Used:      2000000000,
		Free:      3000,
		Percent:   42,
		Formatted: "2.00GB",
	}
	require.Equal(t, expected, usage)

	// Cached.
	_, err = m.DiskUsage(time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, *calls)

	// Too old.
	_, err = m.DiskUsage(0)
	require.NoError(t, err)
	require.Equal(t, 2, *calls)

	t.Run("freeSpaceErr", func(t *testing.T) {
		m, _ := newTestManager(0, 0, 0)
		m.disk.freeSpace = func(string) (*disk.UsageStat, error) {
			return nil, errors.New("mock")
		}
		_, err := m.DiskUsage(0)
		require.Error(t, err)
	})
}

func TestCheckDiskSpace(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		m, calls := newTestManager(0, 0, 0)
		require.NoError(t, m.CheckDiskSpace())
		require.Equal(t, 0, *calls)
	})
	t.Run("enough", func(t *testing.T) {
		m, _ := newTestManager(1, 0, 1000000000)
		require.NoError(t, m.CheckDiskSpace())
	})
	t.Run("insufficient", func(t *testing.T) {
		m, _ := newTestManager(1.5, 0, 1000000000)
		require.ErrorIs(t, m.CheckDiskSpace(), ErrInsufficientSpace)
	})
	t.Run("err", func(t *testing.T) {
		m, _ := newTestManager(1, 0, 0)
		m.disk.freeSpace = func(string) (*disk.UsageStat, error) {
			return nil, errors.New("mock")
		}
		err := m.CheckDiskSpace()
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrInsufficientSpace))
	})
}

func TestDiskUsageBytes(t *testing.T) {
	fileSystem := fstest.MapFS{
		"a.mp4":   {Data: make([]byte, 10)},
		"b/c.mp4": {Data: make([]byte, 5)},
	}
	require.Equal(t, int64(15), diskUsageBytes(fileSystem))
}

func TestFormatDiskUsage(t *testing.T) {
	cases := []struct {
		used     float64
		expected string
	}{
		{10 * megabyte, "10MB"},
		{2 * gigabyte, "2.00GB"},
		{20 * gigabyte, "20.0GB"},
		{200 * gigabyte, "200GB"},
		{2 * terabyte, "2.00TB"},
		{20 * terabyte, "20.0TB"},
		{200 * terabyte, "200TB"},
	}
	for _, tc := range cases {
		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, formatDiskUsage(tc.used))
		})
	}
}

func TestNewManager(t *testing.T) {
	env := &ConfigEnv{StorageDir: t.TempDir()}
	require.NoError(t, env.PrepareEnvironment())

	m := NewManager(env, nil)
	usage, err := m.DiskUsage(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), usage.Used)
	require.Greater(t, usage.Free, int64(0))
}
