package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	storeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of document store operations",
		},
		[]string{"op", "collection", "status"},
	)

	storeLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_latency_seconds",
			Help:    "Document store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "collection"},
	)
)

func init() {
	prometheus.MustRegister(storeOpsTotal)
	prometheus.MustRegister(storeLatencySeconds)
}

// InstrumentedStore decorates a DocumentStore with prometheus counters and
// latency histograms per operation and collection.
type InstrumentedStore struct {
	next DocumentStore
}

func Instrument(next DocumentStore) *InstrumentedStore {
	return &InstrumentedStore{next: next}
}

func (s *InstrumentedStore) observe(op, collection string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		if IsNotFound(err) {
			status = "not_found"
		}
	}
	storeOpsTotal.WithLabelValues(op, collection, status).Inc()
	storeLatencySeconds.WithLabelValues(op, collection).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	start := time.Now()
	doc, err := s.next.Get(ctx, collection, id)
	s.observe("get", collection, start, err)
	return doc, err
}

func (s *InstrumentedStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	start := time.Now()
	err := s.next.Set(ctx, collection, id, fields, merge)
	s.observe("set", collection, start, err)
	return err
}

func (s *InstrumentedStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	start := time.Now()
	id, err := s.next.Add(ctx, collection, fields)
	s.observe("add", collection, start, err)
	return id, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, collection, id)
	s.observe("delete", collection, start, err)
	return err
}

func (s *InstrumentedStore) Query(ctx context.Context, collection, field string, equals interface{}) ([]Document, error) {
	start := time.Now()
	docs, err := s.next.Query(ctx, collection, field, equals)
	s.observe("query", collection, start, err)
	return docs, err
}

func (s *InstrumentedStore) List(ctx context.Context, collection string) ([]Document, error) {
	start := time.Now()
	docs, err := s.next.List(ctx, collection)
	s.observe("list", collection, start, err)
	return docs, err
}
