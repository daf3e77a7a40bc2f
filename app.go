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

package mp4mjpeg

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"mp4mjpeg/pkg/log"
	"mp4mjpeg/pkg/storage"
	"mp4mjpeg/pkg/system"
	"mp4mjpeg/pkg/web"
	"mp4mjpeg/pkg/web/auth"
)

// Run .
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		app.Logger.Error().Src("app").Msgf("fatal error: %v", err)
	case signal := <-stop:
		app.Logger.Info().Src("app").Msgf("received %v, stopping", signal)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	shutdownErr := app.server.Shutdown(ctx2)

	cancel()
	wg.Wait()

	if err != nil {
		return err
	}
	return shutdownErr
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	// Environment config.
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	// Logs.
	logger := log.NewLogger(wg)
	logDB := log.NewDB(env.LogDBPath(), wg)

	// Authentication.
	a, err := auth.NewAuthenticator(filepath.Join(env.ConfigDir, "users.json"), logger)
	if err != nil {
		return nil, fmt.Errorf("could not create authenticator: %w", err)
	}

	// Storage.
	storageManager := storage.NewManager(env, logger)
	sys := system.New(storageManager.DiskUsage, logger)

	// Routes.
	mux := http.NewServeMux()
	mux.Handle("/api/ingest", a.User(web.Ingest(env, storageManager, logger)))
	mux.Handle("/api/disk", a.User(web.DiskUsage(storageManager)))
	mux.Handle("/api/log/query", a.User(web.LogQuery(logDB)))
	mux.Handle("/api/system/status", a.User(web.Status(sys.Status)))

	address := ":" + strconv.Itoa(env.Port)

	return &App{
		WG:      wg,
		Logger:  logger,
		logDB:   logDB,
		Env:     *env,
		Auth:    a,
		Storage: storageManager,
		System:  sys,
		Mux:     mux,
		server:  &http.Server{Addr: address, Handler: mux},
	}, nil
}

// App is the main application struct.
type App struct {
	WG      *sync.WaitGroup
	Logger  *log.Logger
	logDB   *log.DB
	Env     storage.ConfigEnv
	Auth    *auth.Authenticator
	Storage *storage.Manager
	System  *system.System
	Mux     *http.ServeMux
	server  *http.Server
}

// setup starts logging and prepares the storage directory.
func (app *App) setup(ctx context.Context) error {
	app.Logger.Start(ctx)
	go app.Logger.LogToStdout(ctx)

	app.Logger.Info().Src("app").Msg("starting..")

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
	}

	if app.Auth.AuthDisabled() {
		app.Logger.Warn().Src("auth").Msgf(
			"no users in %v, authentication disabled", filepath.Join(app.Env.ConfigDir, "users.json"))
	}

	go app.System.StatusLoop(ctx)

	// Recordings are refused while below the minimum.
	if err := app.Storage.CheckDiskSpace(); err != nil {
		app.Logger.Error().Src("app").Msgf("disk space: %v", err)
	}
	return nil
}

func (app *App) run(ctx context.Context) error {
	if err := app.setup(ctx); err != nil {
		return err
	}

	app.Logger.Info().Src("app").Msgf("serving app on port %v", app.Env.Port)
	err := app.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
