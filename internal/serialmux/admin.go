package serialmux

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/marcopolo/internal/httputil"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var bridgeTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/bridge.html.tmpl"))

type injectRequest struct {
	Data string `json:"data"`
}

type injectResponse struct {
	Sent     string `json:"sent"`
	Reply    string `json:"reply"`
	ReplyHex string `json:"reply_hex"`
}

// AttachAdminRoutes registers the bridge's debug pages under /debug/.
// tsweb restricts them to loopback and tailnet clients.
func (b *Bridge[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutes(mux, b)
}

// AttachAdminRoutes registers the debug routes for any BridgeInterface.
func AttachAdminRoutes(mux *http.ServeMux, br BridgeInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("uart", "inject bytes and tail the simulated UART", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := bridgeTemplate.Execute(buf, br.Status()); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	// JSON body {"data": "..."} or a form field named data.
	debug.HandleSilentFunc("uart-inject", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		var req injectRequest
		if r.Header.Get("Content-Type") == "application/json" {
			if err := httputil.DecodeJSONBody(r, &req); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		} else {
			req.Data = r.FormValue("data")
		}
		if req.Data == "" {
			httputil.BadRequest(w, "missing data")
			return
		}

		reply, err := br.Inject([]byte(req.Data))
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, injectResponse{
			Sent:     req.Data,
			Reply:    string(reply),
			ReplyHex: fmt.Sprintf("%x", reply),
		})
	})

	debug.HandleSilentFunc("uart-status", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSONOK(w, br.Status())
	})

	// Server-sent events, one JSON-encoded uart.Event per message.
	debug.HandleSilentFunc("uart-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := br.Subscribe()
		defer br.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("uart-tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
