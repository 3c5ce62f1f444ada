package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/joeydtaylor/steeze-offline/pkg/invoke"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"go.uber.org/zap"
)

func wrapRoute(rt manifest.Route, d BuildDeps, inproc *InprocRegistry) http.HandlerFunc {
	switch rt.Handler.Type {
	case manifest.HandlerStatic:
		body := []byte(rt.Handler.Body)
		ct := rt.Handler.ContentType
		if ct == "" {
			ct = "text/plain; charset=utf-8"
			if len(body) > 0 && json.Valid(body) {
				ct = "application/json"
			}
		}
		status := orStatus(rt.Handler.Status, http.StatusOK)
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", ct)
			w.WriteHeader(status)
			_, _ = w.Write(body)
		}

	case manifest.HandlerInvoke:
		fn := rt.Handler.Function
		return func(w http.ResponseWriter, r *http.Request) {
			if d.Engine == nil {
				http.Error(w, "invocation engine unavailable", http.StatusServiceUnavailable)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			res, err := d.Engine.InvokeEvent(r.Context(), fn, asEvent(body))
			if err == nil {
				var out []byte
				if out, err = invoke.Serialize(res); err == nil {
					writeJSON(w, http.StatusOK, out)
					return
				}
			}
			writeInvokeError(w, err)
		}

	case manifest.HandlerProxy:
		target, err := url.Parse(rt.Handler.URL)
		if err != nil {
			return func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "invalid proxy url", http.StatusInternalServerError)
			}
		}
		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(target)
				pr.SetXForwarded()
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				if d.Logger != nil {
					d.Logger.Warn("proxy error", zap.String("target", target.String()), zap.Error(err))
				}
				http.Error(w, err.Error(), http.StatusBadGateway)
			},
		}
		return proxy.ServeHTTP

	case manifest.HandlerInproc:
		name := rt.Handler.Name
		return func(w http.ResponseWriter, r *http.Request) {
			h, ok := inproc.Lookup(name)
			if !ok {
				http.Error(w, "handler not found", http.StatusInternalServerError)
				return
			}
			body, _ := io.ReadAll(r.Body)
			out, status, err := h(r.Context(), body)
			if err != nil {
				http.Error(w, err.Error(), orStatus(status, http.StatusInternalServerError))
				return
			}
			writeJSON(w, orStatus(status, http.StatusOK), out)
		}

	default:
		return func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unknown handler type", http.StatusInternalServerError)
		}
	}
}

// asEvent passes JSON bodies through and wraps anything else as a JSON string.
func asEvent(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || json.Valid(trimmed) {
		return trimmed
	}
	b, _ := json.Marshal(string(body))
	return b
}

func writeInvokeError(w http.ResponseWriter, err error) {
	var (
		le *invoke.LookupError
		he *runtime.HandlerError
	)
	switch {
	case errors.As(err, &le):
		http.Error(w, le.Error(), http.StatusNotFound)
	case errors.As(err, &he):
		b, _ := json.Marshal(he)
		writeJSON(w, http.StatusBadGateway, b)
	default:
		b, _ := json.Marshal(map[string]string{"errorMessage": err.Error()})
		writeJSON(w, http.StatusBadGateway, b)
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// orStatus returns s, or def when s is unset.
func orStatus(s, def int) int {
	if s > 0 {
		return s
	}
	return def
}
