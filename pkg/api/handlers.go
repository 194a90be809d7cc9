package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/contentmesh/server/pkg/blacklist"
	"github.com/contentmesh/server/pkg/deploy"
	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/history"
	"github.com/contentmesh/server/pkg/storage"
)

const maxUploadBytes = 200 << 20 // 200MB; per-type budgets are enforced by pkg/validation

// handleGetEntities serves GET /entities/:type?pointer=...&id=... (§6).
func (s *Server) handleGetEntities(w http.ResponseWriter, r *http.Request) {
	entityType := entity.Type(r.PathValue("type"))
	query := r.URL.Query()

	ids := make(map[string]struct{})
	for _, p := range query["pointer"] {
		active := s.service.ActiveEntityIDs(entityType)
		if id, ok := active[p]; ok {
			ids[id] = struct{}{}
		}
	}
	for _, id := range query["id"] {
		ids[id] = struct{}{}
	}

	out := make([]*entity.Entity, 0, len(ids))
	for id := range ids {
		e, err := s.service.GetEntity(r.Context(), id)
		if err != nil {
			continue // absent or blacklisted entities are simply omitted, not an error (§7 subtractive filtering)
		}
		if e.Type != entityType {
			continue
		}
		out = append(out, e)
	}

	writeJSON(w, http.StatusOK, out)
}

// handlePostEntity serves POST /entities (§6): multipart with entity.json,
// any referenced content parts, and form fields entityId/ethAddress/authChain.
func (s *Server) handlePostEntity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeValidation(w, r, "invalid multipart body: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	files := make(map[string][]byte)
	for name, headers := range r.MultipartForm.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				writeValidation(w, r, "could not open upload part "+name)
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				writeValidation(w, r, "could not read upload part "+name)
				return
			}
			files[name] = data
		}
	}
	if _, ok := files["entity.json"]; !ok {
		writeValidation(w, r, "multipart body must contain a part named entity.json")
		return
	}

	var authChain []entity.AuthLink
	if raw := r.FormValue("authChain"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &authChain); err != nil {
			writeValidation(w, r, "authChain is not valid JSON: "+err.Error())
			return
		}
	} else if sig := r.FormValue("signature"); sig != "" {
		authChain = []entity.AuthLink{
			{Type: "SIGNER", Payload: r.FormValue("ethAddress")},
			{Type: "ECDSA_SIGNED_ENTITY", Payload: r.FormValue("entityId"), Signature: sig},
		}
	}

	result, err := s.service.Deploy(r.Context(), deploy.Request{
		Files:           files,
		ClaimedEntityID: r.FormValue("entityId"),
		AuthChain:       authChain,
		EthAddress:      r.FormValue("ethAddress"),
		Version:         r.FormValue("version"),
		CheckFreshness:  true,
	})
	if err != nil {
		s.writeDeployError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"creationTimestamp": result.DeploymentTimestamp})
}

func (s *Server) writeDeployError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *deploy.ValidationError
	if errors.As(err, &valErr) {
		writeValidation(w, r, valErr.Error())
		return
	}
	writeInternal(w, r, s.logger, err)
}

// handleGetContent serves GET /contents/:hashId (§6).
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hashId")
	data, err := s.service.GetContent(r.Context(), hash)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	case errors.Is(err, blacklist.ErrBlacklisted):
		writeBlacklisted(w, r)
	case errors.Is(err, storage.ErrNotFound):
		writeNotFound(w, r, "no content found for hash "+hash)
	default:
		writeInternal(w, r, s.logger, err)
	}
}

// availableContentEntry is one element of POST /available-content's response.
type availableContentEntry struct {
	CID       string `json:"cid"`
	Available bool   `json:"available"`
}

// handlePostAvailableContent serves POST /available-content (§6).
func (s *Server) handlePostAvailableContent(w http.ResponseWriter, r *http.Request) {
	var hashes []string
	if err := json.NewDecoder(r.Body).Decode(&hashes); err != nil {
		writeValidation(w, r, "request body must be a JSON array of content hashes")
		return
	}

	out := make([]availableContentEntry, 0, len(hashes))
	for _, h := range hashes {
		available, err := s.service.HasContent(r.Context(), h)
		if err != nil {
			writeInternal(w, r, s.logger, err)
			return
		}
		out = append(out, availableContentEntry{CID: h, Available: available})
	}
	writeJSON(w, http.StatusOK, out)
}

// pointerEntry is one element of GET /pointers/:type's response.
type pointerEntry struct {
	Pointer  string `json:"pointer"`
	EntityID string `json:"entityId"`
}

// handleGetPointers serves GET /pointers/:type (§6).
func (s *Server) handleGetPointers(w http.ResponseWriter, r *http.Request) {
	entityType := entity.Type(r.PathValue("type"))
	active := s.service.ActiveEntityIDs(entityType)

	out := make([]pointerEntry, 0, len(active))
	for pointer, id := range active {
		out = append(out, pointerEntry{Pointer: pointer, EntityID: id})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetAudit serves GET /audit/:type/:entityId (§6).
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("entityId")
	audit, err := s.service.GetAuditInfo(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, audit)
	case errors.Is(err, storage.ErrNotFound):
		writeNotFound(w, r, "no audit info found for entity "+id)
	default:
		writeInternal(w, r, s.logger, err)
	}
}

// historyResponse is GET /history's response shape (§6: "ordered array of
// HistoryEvent plus lastImmutableTime").
type historyResponse struct {
	Events            []history.Event `json:"events"`
	LastImmutableTime int64           `json:"lastImmutableTime"`
}

// handleGetHistory serves GET /history?from=&to=&serverName= (§6).
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := history.Filter{ServerName: query.Get("serverName")}
	if from := query.Get("from"); from != "" {
		v, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			writeValidation(w, r, "from must be an integer timestamp")
			return
		}
		filter.From = v
	}
	if to := query.Get("to"); to != "" {
		v, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			writeValidation(w, r, "to must be an integer timestamp")
			return
		}
		filter.To = v
	}

	events, err := s.service.GetHistory(r.Context(), filter)
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	immutableTime, err := s.service.ImmutableTime(r.Context())
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Events: events, LastImmutableTime: immutableTime})
}

// statusResponse is GET /status's response shape (§6).
type statusResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	CurrentTime       int64  `json:"currentTime"`
	LastImmutableTime int64  `json:"lastImmutableTime"`
}

// handleGetStatus serves GET /status (§6).
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	immutableTime, err := s.service.ImmutableTime(r.Context())
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Name:              s.name,
		Version:           s.version,
		CurrentTime:       nowMillis(),
		LastImmutableTime: immutableTime,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
