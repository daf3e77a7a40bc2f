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
	"io/fs"
	"os"
	"sync"
	"time"

	"mp4mjpeg/pkg/log"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientSpace not enough free disk space.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// Cached usage older than this is updated by CheckDiskSpace.
const diskCheckMaxAge = time.Minute

type freeSpaceFunc func(string) (*disk.UsageStat, error)

// Manager storage manager.
type Manager struct {
	env  *ConfigEnv
	disk *diskCache

	logger *log.Logger
}

// NewManager returns new manager.
func NewManager(env *ConfigEnv, logger *log.Logger) *Manager {
	return &Manager{
		env: env,
		disk: &diskCache{
			storageDir:     env.StorageDir,
			recordingsFS:   os.DirFS(env.RecordingsDir()),
			diskUsageBytes: diskUsageBytes,
			freeSpace:      disk.Usage,
		},
		logger: logger,
	}
}

// DiskUsage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (s *Manager) DiskUsage(maxAge time.Duration) (DiskUsage, error) {
	return s.disk.usage(maxAge)
}

// CheckDiskSpace returns ErrInsufficientSpace if the free
// space of the storage directory is below the configured minimum.
func (s *Manager) CheckDiskSpace() error {
	if s.env.MinDiskSpace == 0 {
		return nil
	}

	usage, err := s.DiskUsage(diskCheckMaxAge)
	if err != nil {
		return fmt.Errorf("update disk usage: %w", err)
	}

	minBytes := int64(s.env.MinDiskSpace * gigabyte)
	if usage.Free < minBytes {
		s.logger.Warn().Src("storage").Msgf(
			"free space %v, minimum %v", formatDiskUsage(float64(usage.Free)), formatDiskUsage(float64(minBytes)))
		return fmt.Errorf("%w: %v free", ErrInsufficientSpace, formatDiskUsage(float64(usage.Free)))
	}
	return nil
}

// Only used to calculate and cache disk usage.
type diskCache struct {
	storageDir     string
	recordingsFS   fs.FS
	diskUsageBytes func(fs.FS) int64
	freeSpace      freeSpaceFunc

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

func (d *diskCache) usage(maxAge time.Duration) (DiskUsage, error) {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	updatedUsage, err := d.calculateDiskUsage()
	if err != nil {
		return DiskUsage{}, err
	}

	d.cacheLock.Lock()
	d.cache = updatedUsage
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return updatedUsage, nil
}

func (d *diskCache) calculateDiskUsage() (DiskUsage, error) {
	used := d.diskUsageBytes(d.recordingsFS)

	stat, err := d.freeSpace(d.storageDir)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk space: %w", err)
	}

	return DiskUsage{
		Used:      used,
		Free:      int64(stat.Free),
		Percent:   int(stat.UsedPercent),
		Formatted: formatDiskUsage(float64(used)),
	}, nil
}

// DiskUsage in Bytes.
type DiskUsage struct {
	Used      int64  `json:"used"` // Recordings.
	Free      int64  `json:"free"`
	Percent   int    `json:"percent"` // File system.
	Formatted string `json:"formatted"`
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

func diskUsageBytes(fileSystem fs.FS) int64 {
	var used int64
	fs.WalkDir(fileSystem, ".", func(_ string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		used += info.Size()

		return nil
	})
	return used
}
