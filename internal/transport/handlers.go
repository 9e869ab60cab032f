package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/coordinator"
	"github.com/vitaliisemenov/mhconf/internal/service"
)

// getResponseBody is the JSON shape of a Get/Watch-event OK result (§6
// "on OK also (namespace_id, version, element, checksum, sources[], logs[])").
type getResponseBody struct {
	Status      string       `json:"status"`
	NamespaceID string       `json:"namespace_id,omitempty"`
	Version     uint64       `json:"version,omitempty"`
	Element     []wireNode   `json:"element,omitempty"`
	Checksum    string       `json:"checksum,omitempty"`
	Sources     []wireSource `json:"sources,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	status := apierr.ToStatus(err)
	writeJSON(w, httpStatus(status), getResponseBody{Status: string(status), Error: err.Error()})
}

// handleGet implements GET /v1/get (§6 Get).
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.GetRequest{
		RootPath:     q.Get("root_path"),
		Document:     q.Get("document"),
		Labels:       labelsFromQuery(map[string][]string(q)),
		LogLevel:     q.Get("log_level"),
		WithPosition: q.Get("with_position") == "true",
		Token:        bearerToken(r),
	}
	if v := q.Get("version"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeErr(w, &apierr.InvalidArgument{Field: "version", Reason: "not a valid integer"})
			return
		}
		req.Version = parsed
	}

	res, err := s.svc.Get(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getResponseBody{
		Status:      string(apierr.StatusOK),
		NamespaceID: res.NamespaceID,
		Version:     res.Version,
		Element:     encodeElement(res.Element.Value, req.WithPosition, res.Element.Sources),
		Checksum:    checksumHex(res.Checksum),
		Sources:     encodeSources(res.Element.Sources),
	})
}

type updateRequestBody struct {
	RootPath      string   `json:"root_path"`
	Reload        bool     `json:"reload"`
	RelativePaths []string `json:"relative_paths"`
}

type updateResponseBody struct {
	Status      string `json:"status"`
	NamespaceID string `json:"namespace_id,omitempty"`
	NewVersion  uint64 `json:"new_version,omitempty"`
	Error       string `json:"error,omitempty"`
}

// handleUpdate implements POST /v1/update (§6 Update).
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, &apierr.InvalidArgument{Field: "body", Reason: "malformed JSON"})
		return
	}

	res, err := s.svc.Update(r.Context(), service.UpdateRequest{
		RootPath:      body.RootPath,
		Reload:        body.Reload,
		RelativePaths: body.RelativePaths,
		Token:         bearerToken(r),
	})
	if err != nil {
		status := apierr.ToStatus(err)
		writeJSON(w, httpStatus(status), updateResponseBody{Status: string(status), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, updateResponseBody{
		Status:      string(apierr.StatusOK),
		NamespaceID: res.NamespaceID,
		NewVersion:  res.NewVersion,
	})
}

type gcResponseBody struct {
	Status  string `json:"status"`
	Evicted int    `json:"evicted,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleRunGC implements POST /v1/gc/{pass} (§6 RunGC).
func (s *Server) handleRunGC(w http.ResponseWriter, r *http.Request) {
	pass := coordinator.GCPass(routeVar(r, "pass"))
	q := r.URL.Query()
	rootPath := q.Get("root_path")

	var maxLive int64
	if v := q.Get("max_live_seconds"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErr(w, &apierr.InvalidArgument{Field: "max_live_seconds", Reason: "not a valid integer"})
			return
		}
		maxLive = parsed
	}

	evicted, err := s.svc.RunGC(r.Context(), rootPath, pass, secondsToDuration(maxLive), bearerToken(r))
	if err != nil {
		status := apierr.ToStatus(err)
		writeJSON(w, httpStatus(status), gcResponseBody{Status: string(status), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, gcResponseBody{Status: string(apierr.StatusOK), Evicted: evicted})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func checksumHex(sum [32]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}
