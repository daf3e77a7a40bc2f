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
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mp4mjpeg/pkg/log"
	"mp4mjpeg/pkg/mjpeg"
	"mp4mjpeg/pkg/storage"
	"mp4mjpeg/pkg/video/mp4muxer"

	"github.com/gorilla/websocket"
)

const (
	maxFrameSize  = 32 << 20
	writeTimeout  = 10 * time.Second
	endMessage    = "end"
	dataURLPrefix = "data:"

	// Control frame payload limit minus the close code.
	maxCloseReason = 123
)

var errUnknownMessage = errors.New("unknown message")

// IngestResponse is sent after the recording is finalized.
type IngestResponse struct {
	File    string `json:"file"`
	Samples int    `json:"samples"`
	Dropped int    `json:"dropped"`
}

// DiskChecker checks free space before a recording is started.
type DiskChecker interface {
	CheckDiskSpace() error
}

// Ingest records JPEG frames received over a websocket to
// "<recordingsDir>/<name>.mp4". Binary messages are JPEG images,
// text messages are data URLs. The text message "end" finalizes
// the recording, the file is also finalized if the connection is lost.
func Ingest(env *storage.ConfigEnv, disk DiskChecker, logger *log.Logger) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		path, err := env.RecordingPath(r.URL.Query().Get("name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := os.Stat(path); err == nil {
			http.Error(w, "recording already exists", http.StatusConflict)
			return
		}

		if err := disk.CheckDiskSpace(); err != nil {
			if errors.Is(err, storage.ErrInsufficientSpace) {
				http.Error(w, err.Error(), http.StatusInsufficientStorage)
				return
			}
			logger.Error().Src("web").Msgf("check disk space: %v", err)
			http.Error(w, "could not check disk space", http.StatusInternalServerError)
			return
		}

		writer, err := mjpeg.New(env.MuxerOptions(path, logger))
		if err != nil {
			logger.Error().Src("web").Msgf("create recording: %v", err)
			http.Error(w, "could not create recording", http.StatusInternalServerError)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade replies with an error.
			writer.Close()
			os.Remove(path)
			return
		}
		defer c.Close()
		c.SetReadLimit(maxFrameSize)

		s := &ingestSession{
			conn:   c,
			writer: writer,
			file:   filepath.Base(path),
			logger: logger,
		}
		logger.Info().Src("web").File(s.file).Msg("recording started")
		s.run()
	})
}

type ingestSession struct {
	conn   *websocket.Conn
	writer *mjpeg.Writer
	file   string
	logger *log.Logger
}

func (s *ingestSession) run() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Warn().Src("web").File(s.file).
				Msgf("connection lost before end: %v", err)
			s.finalize()
			return
		}

		done, err := s.handleMessage(msgType, data)
		if err != nil {
			s.logger.Error().Src("web").File(s.file).Msgf("ingest: %v", err)
			s.finalize()
			s.close(websocket.CloseUnsupportedData, err.Error())
			return
		}
		if done {
			return
		}
	}
}

func (s *ingestSession) handleMessage(msgType int, data []byte) (bool, error) {
	switch msgType {
	case websocket.BinaryMessage:
		return false, s.writer.AppendImage(data)
	case websocket.TextMessage:
		msg := string(data)
		if msg == endMessage {
			return true, s.end()
		}
		if strings.HasPrefix(msg, dataURLPrefix) {
			return false, s.writer.AppendDataURL(msg)
		}
	}
	return false, errUnknownMessage
}

func (s *ingestSession) end() error {
	if err := s.writer.Finalize(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	res := IngestResponse{File: s.file}
	for _, stream := range s.writer.Stats().Streams {
		res.Samples += stream.Samples
		res.Dropped += stream.Dropped
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	if err := s.conn.WriteJSON(res); err != nil {
		s.logger.Warn().Src("web").File(s.file).Msgf("write response: %v", err)
		return nil
	}
	s.close(websocket.CloseNormalClosure, "")
	return nil
}

// finalize is a no-op if the recording is already finalized.
func (s *ingestSession) finalize() {
	err := s.writer.Finalize()
	if err != nil && !errors.Is(err, mp4muxer.ErrFinalized) {
		s.logger.Error().Src("web").File(s.file).Msgf("finalize: %v", err)
	}
}

func (s *ingestSession) close(code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)) //nolint:errcheck
}
