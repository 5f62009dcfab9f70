// Copyright 2024 The fundstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/fundstream/apis"
	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/core"
	"github.com/alwitt/fundstream/metrics"
	"github.com/alwitt/fundstream/session"
	"github.com/alwitt/fundstream/stream"
	"github.com/alwitt/fundstream/users"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// prepareNATSClient define the NATS client backing the broadcast relay
func prepareNATSClient(
	config common.NATSConfig, ctxtCancel context.CancelFunc, logTags log.Fields,
) (*core.NatsClient, error) {
	natsParam := core.NATSConnectParams{
		ServerURI:           config.ServerURI,
		ConnectTimeout:      time.Second * time.Duration(config.ConnectTimeout),
		MaxReconnectAttempt: config.Reconnect.MaxAttempts,
		ReconnectWait:       time.Second * time.Duration(config.Reconnect.WaitInterval),
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			log.WithError(e).WithFields(logTags).Errorf(
				"NATS client disconnected from server %s", config.ServerURI,
			)
		},
		OnReconnectCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Warnf(
				"NATS client reconnected with server %s", config.ServerURI,
			)
		},
		OnCloseCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Error("NATS client closed connection")
			ctxtCancel()
		},
	}
	return core.GetNATSClient(natsParam)
}

// definePublisher define the broadcast publisher for the configured relay mode
//
// In "nats" mode, a relay receiver replays every broadcast into the local registry,
// including the ones published by this instance.
func definePublisher(
	runTimeContext context.Context,
	ctxtCancel context.CancelFunc,
	config *common.SystemConfig,
	instance string,
	registry stream.Registry,
	wg *sync.WaitGroup,
	logTags log.Fields,
) (stream.Publisher, *core.NatsClient, error) {
	if config.Stream.Relay.Mode != "nats" {
		publisher, err := stream.GetLocalPublisher(registry, instance)
		return publisher, nil, err
	}
	if config.NATS == nil {
		return nil, nil, fmt.Errorf("NATS relay can't start without NATS configurations")
	}

	natsClient, err := prepareNATSClient(*config.NATS, ctxtCancel, logTags)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to define NATS client with %s", config.NATS.ServerURI,
		)
		return nil, nil, err
	}
	publisher, err := stream.GetNATSPublisher(natsClient, config.Stream.Relay.Subject, instance)
	if err != nil {
		natsClient.Close()
		return nil, nil, err
	}
	receiver, err := stream.GetRelayReceiver(
		runTimeContext, natsClient, config.Stream.Relay.Subject, registry,
	)
	if err != nil {
		natsClient.Close()
		return nil, nil, err
	}
	if err := receiver.Start(wg); err != nil {
		natsClient.Close()
		return nil, nil, err
	}
	return publisher, natsClient, nil
}

// RunServer run the fundstream server until the runtime context ends
func RunServer(
	runTimeContext context.Context,
	ctxtCancel context.CancelFunc,
	config *common.SystemConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	collector := metrics.NewCollector()

	// -------------------------------------------------------------------
	// Principal store

	db, err := users.OpenDatabase(config.Database)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open principal database")
		return err
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure closing principal database")
		}
	}(db)
	store, err := users.GetSQLPrincipalStore(
		db, time.Second*time.Duration(config.Database.QueryTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define principal store")
		return err
	}

	// -------------------------------------------------------------------
	// Session authority

	authority, err := session.NewAuthority(
		session.ConfigFromSettings(config.Session), store, collector,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session authority")
		return err
	}

	// -------------------------------------------------------------------
	// Event stream

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	registry, err := stream.GetRegistry(
		localCtxt,
		instance,
		time.Second*time.Duration(config.Stream.HeartbeatInterval),
		collector,
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stream registry")
		return err
	}
	defer registry.Close()

	publisher, natsClient, err := definePublisher(
		localCtxt, ctxtCancel, config, instance, registry, wg, logTags,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcast publisher")
		return err
	}
	if natsClient != nil {
		defer natsClient.Close()
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	sessionHandler, err := apis.GetAPIRestSessionHandler(authority, store, &config.HTTPSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session HTTP handler")
		return err
	}
	streamHandler, err := apis.GetAPIRestStreamHandler(
		localCtxt, registry, publisher, &config.HTTPSetting,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stream HTTP handler")
		return err
	}

	router := mux.NewRouter()
	mainRouter := apis.DefineRoutes(router, config.Endpoints.PathPrefix, sessionHandler, streamHandler)
	if config.Metrics.Enabled {
		_ = apis.RegisterPathPrefix(mainRouter, config.Metrics.Path, apis.MethodHandlers{
			"get": collector.Handler().ServeHTTP,
		})
	}

	// Request ID and request logging
	router.Use(sessionHandler.TrackRequest)

	serverCfg := config.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(serverCfg.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(serverCfg.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Release the open event streams on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
			ctxtCancel()
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
