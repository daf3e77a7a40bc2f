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

package web

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mp4mjpeg/pkg/storage"
	"mp4mjpeg/pkg/video/mp4/bitio"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type mockDisk struct {
	err error
}

func (d mockDisk) CheckDiskSpace() error {
	return d.err
}

func newTestIngest(t *testing.T, disk DiskChecker) (*httptest.Server, *storage.ConfigEnv) {
	t.Helper()
	env := &storage.ConfigEnv{
		StorageDir:            t.TempDir(),
		ReuseLastFrame:        true,
		IgnoreIdenticalFrames: 30,
	}
	require.NoError(t, env.PrepareEnvironment())

	srv := httptest.NewServer(Ingest(env, disk, nil))
	t.Cleanup(srv.Close)
	return srv, env
}

func dial(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?name=" + name
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewGray(image.Rect(0, 0, width, height))
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func readFinalized(t *testing.T, path string) []byte {
	t.Helper()
	var file []byte
	require.Eventually(t, func() bool {
		var err error
		file, err = os.ReadFile(path)
		return err == nil && bytes.Contains(file, []byte("moov"))
	}, 5*time.Second, 10*time.Millisecond)
	return file
}

func TestIngest(t *testing.T) {
	t.Run("end", func(t *testing.T) {
		srv, env := newTestIngest(t, mockDisk{})
		c := dial(t, srv, "cam1")

		img := encodeJPEG(t, 16, 8)
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
		require.NoError(t, c.WriteMessage(websocket.BinaryMessage, img))
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(dataURL)))
		require.NoError(t, c.WriteMessage(websocket.BinaryMessage, encodeJPEG(t, 16, 8)))
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("end")))

		var res IngestResponse
		require.NoError(t, c.ReadJSON(&res))
		require.Equal(t, IngestResponse{File: "cam1.mp4", Samples: 3}, res)

		_, _, err := c.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)

		file := readFinalized(t, filepath.Join(env.RecordingsDir(), "cam1.mp4"))
		require.Equal(t, []byte("ftyp"), file[4:8])

		// Identical frames share the data.
		require.Equal(t, img, file[44:44+len(img)])
		moovSize, err := bitio.ReadUint32(file, 44+len(img))
		require.NoError(t, err)
		require.Len(t, file, 44+len(img)+int(moovSize))
	})
	t.Run("disconnect", func(t *testing.T) {
		srv, env := newTestIngest(t, mockDisk{})
		c := dial(t, srv, "a.mp4")

		require.NoError(t, c.WriteMessage(websocket.BinaryMessage, encodeJPEG(t, 8, 8)))
		c.Close()

		readFinalized(t, filepath.Join(env.RecordingsDir(), "a.mp4"))
	})
	t.Run("unknownMessage", func(t *testing.T) {
		srv, env := newTestIngest(t, mockDisk{})
		c := dial(t, srv, "a")

		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hello")))
		_, _, err := c.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), err)

		readFinalized(t, filepath.Join(env.RecordingsDir(), "a.mp4"))
	})
	t.Run("invalidFrame", func(t *testing.T) {
		srv, _ := newTestIngest(t, mockDisk{})
		c := dial(t, srv, "a")

		require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
		_, _, err := c.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), err)
	})
}

func TestIngestErrors(t *testing.T) {
	testCases := map[string]struct {
		disk     DiskChecker
		method   string
		name     string
		existing bool
		expected int
	}{
		"method":    {mockDisk{}, http.MethodPost, "a", false, http.StatusMethodNotAllowed},
		"noName":    {mockDisk{}, http.MethodGet, "", false, http.StatusBadRequest},
		"badName":   {mockDisk{}, http.MethodGet, "..%2Fa", false, http.StatusBadRequest},
		"exists":    {mockDisk{}, http.MethodGet, "a", true, http.StatusConflict},
		"noSpace":   {mockDisk{storage.ErrInsufficientSpace}, http.MethodGet, "a", false, http.StatusInsufficientStorage},
		"diskErr":   {mockDisk{errors.New("mock")}, http.MethodGet, "a", false, http.StatusInternalServerError},
		"noUpgrade": {mockDisk{}, http.MethodGet, "a", false, http.StatusBadRequest},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			srv, env := newTestIngest(t, tc.disk)
			if tc.existing {
				path := filepath.Join(env.RecordingsDir(), "a.mp4")
				require.NoError(t, os.WriteFile(path, nil, 0o600))
			}

			req, err := http.NewRequest(tc.method, srv.URL+"?name="+tc.name, nil)
			require.NoError(t, err)
			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			res.Body.Close()
			require.Equal(t, tc.expected, res.StatusCode)

			if name == "noUpgrade" {
				// The unused recording is removed.
				_, err := os.Stat(filepath.Join(env.RecordingsDir(), "a.mp4"))
				require.ErrorIs(t, err, os.ErrNotExist)
			}
		})
	}
}
