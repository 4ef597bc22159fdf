package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spa1teN/tausendsassa/internal/metrics"
)

// handleMetrics serves the engine counters plus runtime and live database
// gauges in Prometheus text exposition format, without pulling in the
// Prometheus client library.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := metrics.Global
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	// Live counts from the database; failures leave the gauges at zero.
	var guildCount, feedCount, calendarCount, pinCount int64
	pool := s.store.Pool()
	pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM guilds`).Scan(&guildCount)
	pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM feeds`).Scan(&feedCount)
	pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM calendars`).Scan(&calendarCount)
	pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM map_pins`).Scan(&pinCount)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counter := func(name, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n\n", name, value)
	}
	gauge := func(name, help string, value float64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %f\n\n", name, value)
	}

	counter("tausendsassa_feed_polls_total", "Total feed poll cycles run.", m.FeedPollsTotal.Load())
	counter("tausendsassa_entries_posted_total", "Total feed entries posted.", m.EntriesPosted.Load())
	counter("tausendsassa_entries_edited_total", "Total posted entries edited in place.", m.EntriesEdited.Load())
	counter("tausendsassa_calendar_syncs_total", "Total calendar sync cycles run.", m.CalendarSyncsTotal.Load())
	counter("tausendsassa_reminders_sent_total", "Total event reminders emitted.", m.RemindersSent.Load())
	counter("tausendsassa_maps_rendered_total", "Total map images rasterized.", m.MapsRendered.Load())
	counter("tausendsassa_map_cache_hits_total", "Total map cache hits.", m.MapCacheHits.Load())

	gauge("tausendsassa_guilds", "Known guilds.", float64(guildCount))
	gauge("tausendsassa_feeds", "Configured feeds.", float64(feedCount))
	gauge("tausendsassa_calendars", "Configured calendars.", float64(calendarCount))
	gauge("tausendsassa_map_pins", "Stored map pins.", float64(pinCount))
	gauge("tausendsassa_goroutines", "Live goroutines.", float64(runtime.NumGoroutine()))
	gauge("tausendsassa_heap_bytes", "Heap in use.", float64(mem.HeapAlloc))
	gauge("tausendsassa_uptime_seconds", "Process uptime.", time.Since(m.StartTime).Seconds())
}
