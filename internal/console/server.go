// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/novatechflow/kafsim/pkg/broker"
	"github.com/novatechflow/kafsim/pkg/ledger"
	"github.com/novatechflow/kafsim/pkg/metrics"
)

// ServerOptions are the services the HTTP API exposes.
type ServerOptions struct {
	Broker      *broker.Broker
	Coordinator *broker.GroupCoordinator
	// Ledger is optional; without it the product and reservation routes
	// are not registered.
	Ledger  *ledger.Ledger
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// StartServer launches the HTTP API on addr and shuts it down when ctx ends.
func StartServer(ctx context.Context, addr string, opts ServerOptions) error {
	mux, err := NewMux(opts)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		logger.Info("http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http api server error", "error", err)
		}
	}()
	return nil
}

// NewMux constructs the HTTP API with the supplied dependencies.
func NewMux(opts ServerOptions) (http.Handler, error) {
	if opts.Broker == nil {
		return nil, errors.New("console requires a broker")
	}
	coord := opts.Coordinator
	if coord == nil {
		coord = broker.NewGroupCoordinator(opts.Broker, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &consoleHandlers{
		broker:  opts.Broker,
		coord:   coord,
		ledger:  opts.Ledger,
		metrics: opts.Metrics,
		logger:  logger.With("component", "console"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /topics", h.handleListTopics)
	mux.HandleFunc("POST /topics", h.handleCreateTopic)
	mux.HandleFunc("GET /topics/{name}", h.handleDescribeTopic)
	mux.HandleFunc("POST /topics/{name}/messages", h.handleProduce)
	mux.HandleFunc("GET /topics/{name}/partitions/{partition}/messages", h.handleConsume)
	mux.HandleFunc("GET /topics/{name}/groups/{group}", h.handleGroup)
	mux.HandleFunc("GET /cluster", h.handleCluster)
	if h.ledger != nil {
		mux.HandleFunc("GET /products", h.handleListProducts)
		mux.HandleFunc("GET /products/{id}", h.handleGetProduct)
		mux.HandleFunc("POST /products/{id}/reservations", h.handleReserve)
		mux.HandleFunc("GET /reservations/{id}", h.handleGetReservation)
		mux.HandleFunc("POST /reservations/{id}/confirm", h.handleConfirm)
		mux.HandleFunc("POST /reservations/{id}/release", h.handleRelease)
	}
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return h.instrument(mux), nil
}

type consoleHandlers struct {
	broker  *broker.Broker
	coord   *broker.GroupCoordinator
	ledger  *ledger.Ledger
	metrics *metrics.Collector
	logger  *slog.Logger
}

type topicResponse struct {
	Name                 string   `json:"name"`
	Partitions           int      `json:"partitions"`
	TotalMessages        int64    `json:"totalMessages"`
	MessagesPerPartition []int64  `json:"messagesPerPartition"`
	ConsumerGroups       []string `json:"consumerGroups"`
}

type createTopicRequest struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
}

type produceRequest struct {
	Key   *string         `json:"key"`
	Value json.RawMessage `json:"value"`
}

type messageResponse struct {
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	Key       *string         `json:"key,omitempty"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

type groupResponse struct {
	Topic   string  `json:"topic"`
	Group   string  `json:"group"`
	Offsets []int64 `json:"offsets"`
	Lag     []int64 `json:"lag"`
}

type reserveRequest struct {
	Quantity int64  `json:"quantity"`
	UserID   string `json:"userId"`
}

func (h *consoleHandlers) handleListTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Topics())
}

func (h *consoleHandlers) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.broker.CreateTopic(req.Name, req.Partitions); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeTopic(w, http.StatusCreated, req.Name)
}

func (h *consoleHandlers) handleDescribeTopic(w http.ResponseWriter, r *http.Request) {
	h.writeTopic(w, http.StatusOK, r.PathValue("name"))
}

func (h *consoleHandlers) writeTopic(w http.ResponseWriter, status int, name string) {
	info, err := h.broker.Describe(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, status, topicResponse{
		Name:                 info.Name,
		Partitions:           info.Partitions,
		TotalMessages:        info.TotalMessages,
		MessagesPerPartition: info.MessagesPerPartition,
		ConsumerGroups:       h.coord.Groups(name),
	})
}

func (h *consoleHandlers) handleProduce(w http.ResponseWriter, r *http.Request) {
	var req produceRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.Value) == 0 {
		h.writeError(w, malformed("value is required"))
		return
	}
	var key []byte
	if req.Key != nil {
		key = []byte(*req.Key)
	}
	res, err := h.broker.Produce(r.Context(), r.PathValue("name"), key, payloadBytes(req.Value))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *consoleHandlers) handleConsume(w http.ResponseWriter, r *http.Request) {
	partition, err := strconv.ParseInt(r.PathValue("partition"), 10, 32)
	if err != nil {
		h.writeError(w, malformed("partition must be an integer"))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, err := queryInt(r, "max", 100)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit = min(limit, int64(math.MaxInt))
	envs, err := h.broker.ConsumeFrom(r.PathValue("name"), int32(partition), offset, int(limit))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(envs))
	for _, env := range envs {
		msg := messageResponse{
			Partition: env.Partition,
			Offset:    env.Offset,
			Value:     payloadJSON(env.Value),
			Timestamp: env.ProducedAt.UnixMilli(),
		}
		if env.HasKey() {
			key := string(env.Key)
			msg.Key = &key
		}
		out = append(out, msg)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *consoleHandlers) handleGroup(w http.ResponseWriter, r *http.Request) {
	topic, group := r.PathValue("name"), r.PathValue("group")
	offsets, err := h.coord.Offsets(topic, group)
	if err != nil {
		h.writeError(w, err)
		return
	}
	lag, err := h.coord.Lag(topic, group)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groupResponse{Topic: topic, Group: group, Offsets: offsets, Lag: lag})
}

func (h *consoleHandlers) handleCluster(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Stats())
}

func (h *consoleHandlers) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Products())
}

func (h *consoleHandlers) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.Product(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *consoleHandlers) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.ledger.Reserve(r.Context(), r.PathValue("id"), req.Quantity, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *consoleHandlers) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.Reservation(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *consoleHandlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.closeReservation(w, r, h.ledger.Confirm)
}

func (h *consoleHandlers) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.closeReservation(w, r, h.ledger.Release)
}

func (h *consoleHandlers) closeReservation(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := r.PathValue("id")
	if err := op(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.ledger.Reservation(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *consoleHandlers) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if h.metrics == nil {
		return
	}
	if err := h.metrics.ExportTo(w); err != nil {
		h.logger.Warn("metrics export failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route pattern and status.
func (h *consoleHandlers) instrument(next *http.ServeMux) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		_, route := next.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		h.metrics.IncrementCounter("http_requests_total", metrics.Labels{"route": route, "status": strconv.Itoa(rec.status)})
		h.metrics.ObserveHistogram("http_request_duration_seconds", time.Since(start).Seconds(), metrics.Labels{"route": route})
	})
}

func queryInt(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, malformed(name + " must be an integer")
	}
	return v, nil
}

// payloadBytes stores JSON strings as their raw text and any other JSON
// value verbatim.
func payloadBytes(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return append([]byte(nil), raw...)
}

// payloadJSON is the inverse of payloadBytes for responses.
func payloadJSON(value []byte) json.RawMessage {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(string(value))
	return quoted
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
