package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"

	"github.com/alifzidanr/findmyjowa-render/internal/ingest"
	"github.com/alifzidanr/findmyjowa-render/internal/presence"
)

// ServiceRegistry maps function names to handlers of the shape
// func(ctx, *Req, *Res) or func(ctx, *Res); requests are JSON-decoded and
// validated before the call.
type ServiceRegistry struct {
	svcs map[string]service
	*validator.Validate
	db       *pgxpool.Pool
	log      log.Logger
	ingest   *ingest.Ingest
	presence presence.Config
}

type service struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

func NewServiceRegistry(db *pgxpool.Pool, in *ingest.Ingest, pcfg presence.Config) *ServiceRegistry {
	svc := &ServiceRegistry{}
	svc.svcs = make(map[string]service)
	svc.db = db
	svc.Validate = validator.New()
	svc.ingest = in
	svc.presence = pcfg
	svc.log = log.DefaultLogger
	svc.log.Context = log.NewContext(nil).Str("module", "web-service").Value()
	return svc
}

func (sreg *ServiceRegistry) RegisterService() {
	device := Device{db: sreg.db, reg: sreg}
	sreg.Add("Echo", test_echo)
	sreg.Add("RegisterDevice", device.RegisterDevice)
	sreg.Add("GetDevices", device.GetDevices)
	sreg.Add("GetPairView", device.GetPairView)
}

func (sreg *ServiceRegistry) Add(tag string, i interface{}) {
	s := service{}
	s.handler = reflect.ValueOf(i)
	if s.handler.Type().NumIn() == 2 {
		s.reqType = nil
		s.resType = s.handler.Type().In(1).Elem()
	} else {
		s.reqType = s.handler.Type().In(1).Elem()
		s.resType = s.handler.Type().In(2).Elem()
	}
	sreg.svcs[tag] = s
}

func (sreg *ServiceRegistry) Call(tag string, w http.ResponseWriter, r *http.Request) {
	svc, ok := sreg.svcs[tag]
	if !ok {
		http.Error(w, fmt.Sprintf("function \"%s\" not found", tag), http.StatusNotFound)
		return
	}
	ctx := r.Context()
	response := reflect.New(svc.resType)
	if svc.reqType != nil {
		request := reflect.New(svc.reqType)
		err := json.NewDecoder(r.Body).Decode(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = sreg.Struct(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svc.handler.Call([]reflect.Value{reflect.ValueOf(ctx), request, response})
	} else {
		svc.handler.Call([]reflect.Value{reflect.ValueOf(ctx), response})
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(response.Interface())
	if err != nil {
		sreg.log.Error().Err(err).Msg("")
	}
}

type BasicResponse struct {
	Status int `json:"status"`
}

type Echo struct {
	Message string `json:"message"`
}

func test_echo(ctx context.Context, req *Echo, res *Echo) {
	res.Message = req.Message
}
