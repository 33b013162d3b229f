// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/merklekv/merklekv/internal/adminhttp"
	"github.com/merklekv/merklekv/internal/broker"
	"github.com/merklekv/merklekv/internal/command"
	"github.com/merklekv/merklekv/internal/config"
	"github.com/merklekv/merklekv/internal/metrics"
	"github.com/merklekv/merklekv/internal/persist"
	"github.com/merklekv/merklekv/internal/processor"
	"github.com/merklekv/merklekv/internal/replication"
	"github.com/merklekv/merklekv/internal/runtimeenv"
	"github.com/merklekv/merklekv/internal/scheduler"
	"github.com/merklekv/merklekv/internal/storage"
	"github.com/merklekv/merklekv/internal/topic"
	"github.com/merklekv/merklekv/pkg/log"
)

// checkpointSink fans a checkpoint out to the local SQLite snapshot and,
// when configured, an additional S3 write-through copy. The replication log
// itself still lives only locally; S3 has no efficient append.
type checkpointSink struct {
	local *persist.Store
	s3    *persist.S3Sink
}

// recoverCommandID best-effort extracts the "id" field from a command
// payload that failed full structural validation, so a caller still gets a
// correlatable response instead of waiting out the correlator timeout.
func recoverCommandID(payload []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(payload, &probe)
	return probe.ID
}

func (c *checkpointSink) Checkpoint(entries []storage.Entry) error {
	if err := c.local.Checkpoint(entries); err != nil {
		return err
	}
	if c.s3 != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.s3.WriteSnapshot(ctx, entries); err != nil {
			log.Errorf("main: s3 snapshot write-through failed: %v", err)
		}
	}
	return nil
}

func main() {
	var flagConfigFile, flagEnvFile string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "path to the node's `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "path to an optional `.env` file loaded before config")
	flag.Parse()

	if err := runtimeenv.LoadEnv(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("main: loading %s failed: %v", flagEnvFile, err)
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatalf("main: loading config failed: %v", err)
	}

	engine := storage.New(cfg.ShardCount)
	reg := metrics.New()

	var store *persist.Store
	var s3Sink *persist.S3Sink
	if cfg.PersistenceEnabled {
		localPath := cfg.StoragePath
		if bucket, key, ok := persist.ParseS3Path(cfg.StoragePath); ok {
			localPath = "./var/merklekv-log.db"
			s3Sink, err = persist.NewS3Sink(context.Background(), bucket, key, cfg.S3AccessKey, cfg.S3SecretKey)
			if err != nil {
				log.Fatalf("main: configuring s3 snapshot sink failed: %v", err)
			}
		}

		store, err = persist.Open(localPath)
		if err != nil {
			log.Fatalf("main: opening persistence store at %s failed: %v", localPath, err)
		}
		defer store.Close()

		entries, err := store.Load()
		if err != nil {
			log.Fatalf("main: replaying persisted state failed: %v", err)
		}
		for _, e := range entries {
			if _, err := engine.ApplyReplication(e); err != nil {
				log.Warnf("main: replaying entry for key %q: %v", e.Key, err)
			}
		}
		log.Infof("main: replayed %d persisted entries", len(entries))
	}

	router, err := topic.NewRouter(cfg.TopicPrefix, cfg.ClientID)
	if err != nil {
		log.Fatalf("main: building topic router failed: %v", err)
	}

	pipeline := replication.New(engine, cfg.SkewMaxFuture(), 256, reg)
	if store != nil {
		pipeline.AttachPersister(store)
	}
	proc := processor.New(engine, cfg.NodeID, cfg.IdempotencyCacheSize, cfg.IdempotencyCacheTTL(), pipeline, reg)

	mqttClient := broker.New(broker.Config{
		BrokerURL:         cfg.BrokerURL(),
		ClientID:          cfg.ClientID,
		Username:          cfg.Username,
		Password:          cfg.Password,
		KeepAlive:         cfg.KeepAlive(),
		ConnectionTimeout: cfg.ConnectionTimeout(),
		LWTTopic:          router.ReplicationTopic(),
	})

	mqttClient.Subscribe(router.CommandTopic(), func(_ string, payload []byte) {
		var resp command.Response
		cmd, err := command.ParseCommand(payload)
		if err != nil {
			log.Warnf("main: rejecting malformed command: %v", err)
			resp = command.Err(recoverCommandID(payload), command.ErrCodeInvalidRequest, err.Error())
		} else {
			resp = proc.Process(cmd)
		}

		raw, err := resp.Marshal()
		if err != nil {
			log.Errorf("main: marshaling response for %q: %v", resp.ID, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout())
		defer cancel()
		if err := mqttClient.Publish(ctx, router.ResponseTopic(), raw); err != nil {
			log.Errorf("main: publishing response for %q: %v", resp.ID, err)
		}
	})

	mqttClient.Subscribe(router.ReplicationTopic(), func(_ string, payload []byte) {
		pipeline.HandleInbound(payload)
	})

	ctx, cancelConn := context.WithCancel(context.Background())
	if err := mqttClient.Connect(ctx); err != nil {
		log.Fatalf("main: initial broker connection failed: %v", err)
	}

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(pipelineCtx, func(ctx context.Context, payload []byte) error {
			return mqttClient.Publish(ctx, router.ReplicationTopic(), payload)
		})
	}()

	stateEvents := mqttClient.StateEvents()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-stateEvents:
				reg.SetConnectionState(ev.State.String(), []string{"disconnected", "connecting", "connected", "disconnecting"})
			case <-pipelineCtx.Done():
				return
			}
		}
	}()

	var sched *scheduler.Scheduler
	if store != nil {
		sched, err = scheduler.New(engine, &checkpointSink{local: store, s3: s3Sink}, scheduler.Config{
			GCInterval:         cfg.GCInterval(),
			TombstoneRetention: cfg.TombstoneRetention(),
		})
		if err != nil {
			log.Fatalf("main: building scheduler failed: %v", err)
		}
		if err := sched.Start(); err != nil {
			log.Fatalf("main: starting scheduler failed: %v", err)
		}
	}

	var adminSrv *adminhttp.Server
	if cfg.AdminAddr != "" {
		adminSrv, err = adminhttp.New(cfg.AdminAddr, reg.Gatherer(), mqttClient)
		if err != nil {
			log.Fatalf("main: starting admin http server failed: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminSrv.Serve(); err != nil {
				log.Errorf("main: admin http server stopped: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(100)
	}
	runtimeenv.SystemdNotifiy(true, "running")
	log.Infof("main: node %s ready, broker=%s", cfg.NodeID, cfg.BrokerURL())

	<-sigs
	runtimeenv.SystemdNotifiy(false, "shutting down")
	fmt.Fprintln(os.Stderr, "main: shutting down")

	cancelConn()
	mqttClient.Disconnect(false)
	cancelPipeline()

	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			log.Errorf("main: scheduler shutdown: %v", err)
		}
	}
	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		adminSrv.Shutdown(shutdownCtx)
		cancel()
	}

	wg.Wait()
	log.Info("main: graceful shutdown complete")
}
