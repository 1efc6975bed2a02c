package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/morezero/livequery/pkg/protocol"
)

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status      string       `json:"status"`
	Checks      HealthChecks `json:"checks"`
	Connections int          `json:"connections"`
	Handlers    int          `json:"handlers"`
	Protocol    string       `json:"protocol"`
	Timestamp   string       `json:"timestamp"`
}

// HealthChecks holds individual dependency checks.
type HealthChecks struct {
	Store bool `json:"store"`
}

// Health pings the data store and reports connection and handler counts.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Status:      "healthy",
		Connections: s.ConnectionCount(),
		Handlers:    s.reg.Len(),
		Protocol:    protocol.Version,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	out.Checks.Store = s.store == nil || s.store.Ping(ctx) == nil
	if !out.Checks.Store {
		out.Status = "unhealthy"
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)

	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(h); err != nil {
		slog.Error(fmt.Sprintf("%s - health encode: %v", logPrefix, err))
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// homePageTemplate lists the registered handlers (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>livequery</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    code { background: #f5f5f5; padding: 0 0.25rem; }
    .meta { color: #333; font-size: 0.9rem; }
  </style>
</head>
<body>
  <h1>livequery</h1>
  <p class="meta">Websocket endpoint <code>{{.WSPath}}</code>, protocol {{.Health.Protocol}}.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Open connections: {{.Health.Connections}}</p>
  </section>

  <section>
    <h2>Handlers</h2>
    {{if not .Handlers}}
    <p>No handlers registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Key</th><th>Kind</th><th>Arguments</th></tr></thead>
      <tbody>
        {{range .Handlers}}
        <tr><td><code>{{.Key}}</code></td><td>{{.Kind}}</td><td>{{.Args}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

type handlerRow struct {
	Key  string
	Kind string
	Args string
}

type homeData struct {
	WSPath   string
	Health   *HealthOutput
	Handlers []handlerRow
}

// handleHome returns an HTTP handler for the index page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{WSPath: s.cfg.WSPath, Health: s.Health(ctx)}
		for _, key := range s.reg.Keys() {
			def, ok := s.reg.ResolveByKey(key)
			if !ok {
				continue
			}
			args := "none"
			if def.HasArgs() {
				args = def.ArgsType().String()
			}
			data.Handlers = append(data.Handlers, handlerRow{Key: key, Kind: string(def.Kind()), Args: args})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
