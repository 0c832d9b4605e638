package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alifzidanr/findmyjowa-render/internal/ingest"
	"github.com/alifzidanr/findmyjowa-render/internal/presence"
	"github.com/alifzidanr/findmyjowa-render/internal/util"
	"github.com/alifzidanr/findmyjowa-render/internal/web/service"
)

type ApiConfig struct {
	ListenAddr string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    zerolog.Logger
}

func NewApi(db *pgxpool.Pool, in *ingest.Ingest, pcfg presence.Config, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.log = log.With().Str("module", "api").Logger()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	svc := service.NewServiceRegistry(db, in, pcfg)
	svc.RegisterService()
	r.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		svc.Call(chi.URLParam(r, "name"), w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		util.JsonWrite(w, map[string]bool{"ok": true})
	})

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Run() {
	api.log.Info().Msgf("starting api server on %s", api.config.ListenAddr)
	err := api.s.ListenAndServe()
	if err != nil {
		panic(err)
	}
}
