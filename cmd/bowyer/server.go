package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-bowyer/internal/cache"
	"github.com/23skdu/longbow-bowyer/internal/embedding"
)

var (
	lookupsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bowyer_lookups_total",
		Help: "The total number of neighbor lookups served",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bowyer_cache_hits_total",
		Help: "The total number of neighbor lookups answered from cache",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bowyer_request_duration_seconds",
		Help:    "Time spent processing neighbor requests",
		Buckets: prometheus.DefBuckets,
	})
)

type Server struct {
	emb       *embedding.Embeddings
	cache     cache.NeighborCache
	sem       *semaphore.Weighted
	maxWeight int64
}

func NewServer(e *embedding.Embeddings, maxConcurrent int) *Server {
	return &Server{
		emb:       e,
		cache:     cache.NewMapCache(),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxWeight: int64(maxConcurrent),
	}
}

func startServer(addr string, e *embedding.Embeddings, maxConcurrent int) {
	srv := NewServer(e, maxConcurrent)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/neighbors", srv.handleNeighbors)
	http.HandleFunc("/vector", srv.handleVector)

	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting Bowyer Server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("bowyer-server")

// handleNeighbors answers a CBOR-encoded word list with one neighbor
// list per word. Unknown words get an empty list.
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleNeighbors")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	k := 10
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Bad Request (k must be a positive integer)", http.StatusBadRequest)
			return
		}
		k = n
	}

	var words []string
	decoder := cbor.NewDecoder(r.Body)
	if err := decoder.Decode(&words); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	if len(words) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	span.SetAttributes(
		attribute.Int("word_count", len(words)),
		attribute.Int("k", k),
	)

	// Admission Control
	weight := int64(len(words))
	if weight > s.maxWeight {
		http.Error(w, "Too many words in one request", http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	results := make([][]embedding.Neighbor, len(words))
	for i, word := range words {
		key := cache.Key(word, k)
		if ns, ok := s.cache.Get(key); ok {
			cacheHits.Inc()
			results[i] = ns
			continue
		}
		ns, err := s.emb.Neighbors(word, k)
		if err != nil {
			ns = []embedding.Neighbor{}
		}
		s.cache.Put(key, ns)
		results[i] = ns
	}
	lookupsServed.Add(float64(len(words)))

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(results); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// handleVector returns the normalized vector of a single word as a
// CBOR array of float32.
func (s *Server) handleVector(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleVector")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	word := r.URL.Query().Get("word")
	if word == "" {
		http.Error(w, "Bad Request (missing word parameter)", http.StatusBadRequest)
		return
	}

	vec, ok := s.emb.Vector(word)
	if !ok {
		http.Error(w, "word not in vocabulary", http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.Int("dim", len(vec)))

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(vec); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
