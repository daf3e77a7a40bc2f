// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"mp4mjpeg/pkg/storage"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func newTestSystem() *System {
	return &System{
		cpu: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{11.5}, nil
		},
		ram: func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 22.9}, nil
		},
		disk: func(time.Duration) (storage.DiskUsage, error) {
			return storage.DiskUsage{Percent: 33, Formatted: "1.00GB"}, nil
		},
		duration: time.Millisecond,
	}
}

func TestUpdate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s := newTestSystem()
		require.NoError(t, s.update(context.Background()))

		expected := Status{
			CPUUsage:           11,
			RAMUsage:           22,
			DiskUsage:          33,
			DiskUsageFormatted: "1.00GB",
		}
		require.Equal(t, expected, s.Status())
	})
	t.Run("cpuErr", func(t *testing.T) {
		s := newTestSystem()
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return nil, errors.New("mock")
		}
		require.Error(t, s.update(context.Background()))
	})
	t.Run("noCPU", func(t *testing.T) {
		s := newTestSystem()
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return nil, nil
		}
		require.ErrorIs(t, s.update(context.Background()), errNoCPUUsage)
	})
	t.Run("ramErr", func(t *testing.T) {
		s := newTestSystem()
		s.ram = func() (*mem.VirtualMemoryStat, error) {
			return nil, errors.New("mock")
		}
		require.Error(t, s.update(context.Background()))
	})
	t.Run("diskErr", func(t *testing.T) {
		s := newTestSystem()
		s.disk = func(time.Duration) (storage.DiskUsage, error) {
			return storage.DiskUsage{}, errors.New("mock")
		}
		require.Error(t, s.update(context.Background()))
		require.Equal(t, Status{}, s.Status())
	})
}

func TestStatusLoop(t *testing.T) {
	s := newTestSystem()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.StatusLoop(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return s.Status().CPUUsage == 11
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
