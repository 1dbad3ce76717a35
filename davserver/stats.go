package davserver

import (
	"net/http"

	"github.com/gorilla/schema"
	"github.com/rcrowley/go-metrics"
)

var schemaDecoder = schema.NewDecoder()

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
}

// StatsOptions selects what the stats endpoint reports.
type StatsOptions struct {
	Counters bool `schema:"counters"`
}

type statsResponse struct {
	CacheItems     int              `json:"cache_items"`
	CacheListings  int              `json:"cache_listings"`
	CacheNegatives int              `json:"cache_negatives"`
	Counters       map[string]int64 `json:"counters,omitempty"`
}

func (h *Handler) serveStats(w http.ResponseWriter, r *http.Request) error {
	var opt StatsOptions
	if err := schemaDecoder.Decode(&opt, r.URL.Query()); err != nil {
		return &davError{statusCode: http.StatusBadRequest, err: err}
	}

	items, listings, negatives := h.Meta.Stats()
	resp := statsResponse{
		CacheItems:     items,
		CacheListings:  listings,
		CacheNegatives: negatives,
	}
	if opt.Counters {
		resp.Counters = make(map[string]int64)
		reg := h.Registry
		if reg == nil {
			reg = metrics.DefaultRegistry
		}
		reg.Each(func(name string, m interface{}) {
			if c, ok := m.(metrics.Counter); ok {
				resp.Counters[name] = c.Count()
			}
		})
	}
	return writeJSON(w, resp)
}
