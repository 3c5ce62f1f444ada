package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/joeydtaylor/steeze-offline/pkg/invoke"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
)

// proxyResult is the structured response a function may return.
type proxyResult struct {
	StatusCode        int                        `json:"statusCode"`
	Headers           map[string]json.RawMessage `json:"headers"`
	MultiValueHeaders map[string][]any           `json:"multiValueHeaders"`
	Cookies           []string                   `json:"cookies"`
	Body              json.RawMessage            `json:"body"`
	IsBase64Encoded   bool                       `json:"isBase64Encoded"`
}

// writeResult maps a function result onto the HTTP response. Objects carrying
// statusCode are structured responses; anything else is sent as JSON with 200.
func writeResult(w http.ResponseWriter, res *runtime.Response) error {
	out, err := invoke.Serialize(res)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	var fields map[string]json.RawMessage
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &fields) == nil {
		if _, ok := fields["statusCode"]; ok {
			var pr proxyResult
			if err := json.Unmarshal(trimmed, &pr); err != nil {
				return fmt.Errorf("gateway: decode result: %w", err)
			}
			return pr.write(w)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(trimmed)
	return err
}

func (pr proxyResult) write(w http.ResponseWriter) error {
	body, err := pr.body()
	if err != nil {
		return err
	}
	h := w.Header()
	for _, k := range sortedKeys(pr.Headers) {
		h.Set(k, headerValue(pr.Headers[k]))
	}
	for k, vs := range pr.MultiValueHeaders {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, fmt.Sprint(v))
		}
	}
	for _, c := range pr.Cookies {
		h.Add("Set-Cookie", c)
	}
	if h.Get("Content-Type") == "" && len(body) > 0 {
		h.Set("Content-Type", "application/json")
	}
	status := pr.StatusCode
	if status < 100 || status > 599 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

func (pr proxyResult) body() ([]byte, error) {
	if len(pr.Body) == 0 || string(pr.Body) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(pr.Body, &s); err != nil {
		// Non-string bodies are sent as their JSON encoding.
		return pr.Body, nil
	}
	if pr.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("gateway: body is not base64: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// headerValue renders a header value given as a string, number or bool.
func headerValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(bytes.TrimSpace(raw))
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	b, _ := json.Marshal(map[string]string{"message": msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
