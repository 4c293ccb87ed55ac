package metrics

import (
	"bufio"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const promName = "aero_webrtc_audio_source_events_total"

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// PrometheusHandler serves every counter as one sample of a single metric,
// labelled by event name, in the text exposition format.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		bw := bufio.NewWriter(w)
		bw.WriteString("# HELP " + promName + " Internal event counters.\n")
		bw.WriteString("# TYPE " + promName + " counter\n")
		events := make([]string, 0, len(snap))
		for event := range snap {
			events = append(events, event)
		}
		sort.Strings(events)
		for _, event := range events {
			bw.WriteString(promName + `{event="` + labelEscaper.Replace(event) + `"} `)
			bw.WriteString(strconv.FormatUint(snap[event], 10))
			bw.WriteByte('\n')
		}
		_ = bw.Flush()
	})
}
