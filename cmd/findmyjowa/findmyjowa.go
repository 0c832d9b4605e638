package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/alifzidanr/findmyjowa-render/internal/config"
	"github.com/alifzidanr/findmyjowa-render/internal/devsocket"
	"github.com/alifzidanr/findmyjowa-render/internal/hub"
	"github.com/alifzidanr/findmyjowa-render/internal/ingest"
	"github.com/alifzidanr/findmyjowa-render/internal/presence"
	"github.com/alifzidanr/findmyjowa-render/internal/store"
	"github.com/alifzidanr/findmyjowa-render/internal/store/logstore"
	"github.com/alifzidanr/findmyjowa-render/internal/store/pgstore"
	"github.com/alifzidanr/findmyjowa-render/internal/sweeper"
	"github.com/alifzidanr/findmyjowa-render/internal/web"
	"github.com/alifzidanr/findmyjowa-render/internal/webstream"
)

func main() {
	cfg := config.Load()

	// empty db_url runs against the in-memory log store; the query API
	// needs Postgres and is skipped in that mode
	var pool *pgxpool.Pool
	var st store.Store
	if cfg.DBUrl == "" {
		st = logstore.NewStore()
	} else {
		var err error
		pool, err = pgxpool.Connect(context.Background(), cfg.DBUrl)
		if err != nil {
			panic(err.Error())
		}
		st = pgstore.NewStore(pool)
	}

	h := hub.New()
	in := ingest.New(st, h)
	pcfg := presence.Config{FreshWindow: cfg.FreshWindow, StaleWindow: cfg.StaleWindow}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	sw := sweeper.New(st, h, sweeper.Config{Interval: cfg.SweepInterval, DemotionWindow: cfg.DemotionWindow})
	go sw.Run(ctx)

	ds := devsocket.NewServer(in, &devsocket.ServerConfig{ListenerAddr: cfg.DeviceAddr})
	go ds.Run()

	ws := webstream.NewWebstream(h, in, webstream.Config{ListenAddr: cfg.StreamAddr})
	go ws.Run()

	if pool != nil {
		api := web.NewApi(pool, in, pcfg, &web.ApiConfig{ListenAddr: cfg.ApiAddr})
		api.Run()
	} else {
		<-ctx.Done()
	}
}
