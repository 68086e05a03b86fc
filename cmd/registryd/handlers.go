package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ClearlogHQ/clearlog/internal/api"
	"github.com/ClearlogHQ/clearlog/pkg/types"
)

// maxContentUpload bounds content upload bodies.
const maxContentUpload = 64 * 1024 * 1024 // 64MB

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an error into the wire error body.
func writeError(w http.ResponseWriter, err error) {
	body := api.MapError(err)
	writeJSON(w, api.HTTPStatus(body.Code), body)
}

func (s *RegistryServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"service":         "registryd",
		"registry_length": s.coordinator.Length(),
	})
}

func (s *RegistryServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"registry_length": s.coordinator.Length(),
	}

	if latest, err := s.coordinator.LatestCheckpoint(r.Context()); err == nil {
		stats["latest_checkpoint_length"] = latest.Checkpoint.LogLength
		stats["latest_checkpoint_time"] = latest.Checkpoint.Timestamp
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *RegistryServer) handleSubmitPackageRecord(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.service.SubmitPackageRecord(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		// A rejection produced a durable status worth returning
		if resp != nil {
			body := api.MapError(err)
			writeJSON(w, api.HTTPStatus(body.Code), resp)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *RegistryServer) handleSubmitOperatorRecord(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.service.SubmitOperatorRecord(r.Context(), &req)
	if err != nil {
		if resp != nil {
			body := api.MapError(err)
			writeJSON(w, api.HTTPStatus(body.Code), resp)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// fetchRecordsQuery parses the shared fetch query parameters.
func fetchRecordsQuery(r *http.Request) (*types.FetchRecordsRequest, error) {
	req := &types.FetchRecordsRequest{}

	if since := r.URL.Query().Get("since"); since != "" {
		req.Since = since
	}

	if lengthStr := r.URL.Query().Get("max_registry_length"); lengthStr != "" {
		length, err := strconv.ParseUint(lengthStr, 10, 64)
		if err != nil {
			return nil, err
		}
		req.MaxRegistryLength = length
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}
		req.Limit = limit
	}

	return req, nil
}

func (s *RegistryServer) handleFetchPackageRecords(w http.ResponseWriter, r *http.Request) {
	req, err := fetchRecordsQuery(r)
	if err != nil {
		http.Error(w, "Invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.PackageID = mux.Vars(r)["id"]

	resp, err := s.service.FetchRecords(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleFetchOperatorRecords(w http.ResponseWriter, r *http.Request) {
	req, err := fetchRecordsQuery(r)
	if err != nil {
		http.Error(w, "Invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.service.FetchRecords(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleFetchLeaves(w http.ResponseWriter, r *http.Request) {
	var start uint64
	if startStr := r.URL.Query().Get("start"); startStr != "" {
		parsed, err := strconv.ParseUint(startStr, 10, 64)
		if err != nil {
			http.Error(w, "Invalid start parameter", http.StatusBadRequest)
			return
		}
		start = parsed
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	resp, err := s.service.FetchLeaves(r.Context(), start, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	packageID := r.URL.Query().Get("package_id")
	recordID := r.URL.Query().Get("record_id")
	if recordID == "" {
		http.Error(w, "Missing record_id parameter", http.StatusBadRequest)
		return
	}

	resp, err := s.service.RecordStatus(r.Context(), packageID, recordID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.LatestCheckpoint(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleMintCheckpoint(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.MintCheckpoint(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.publisher.PublishCheckpoint(r.Context(), resp); err != nil {
		// Announcement failures do not fail the mint
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *RegistryServer) handleProveInclusion(w http.ResponseWriter, r *http.Request) {
	var req types.ProveInclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.service.ProveInclusion(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleProveConsistency(w http.ResponseWriter, r *http.Request) {
	var req types.ProveConsistencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.service.ProveConsistency(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *RegistryServer) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxContentUpload))
	if err != nil {
		http.Error(w, "Failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.service.UploadContent(r.Context(), mux.Vars(r)["digest"], data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *RegistryServer) handleDownloadContent(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.DownloadContent(r.Context(), mux.Vars(r)["digest"])
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
