package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/OtoMind/otomind-engine/engine/cache"
	"github.com/OtoMind/otomind-engine/engine/diagnose"
	"github.com/OtoMind/otomind-engine/engine/graph"
)

// apiServer bundles the stores behind the HTTP handlers.
type apiServer struct {
	graph  *graph.GraphStore
	cache  *cache.QueryCache
	diag   *diagnose.Service
	logger *slog.Logger
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnose.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res := a.diag.Diagnose(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

func (a *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.graph.Stats(r.Context())
	if cs, err := a.cache.CacheStats(r.Context()); err == nil {
		stats.CacheHitRate = cs.HitRate
	} else {
		a.logger.Warn("cache stats unavailable", "err", err)
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Node handlers ---

func (a *apiServer) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var in graph.NodeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	node, err := a.graph.CreateNode(r.Context(), in)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (a *apiServer) handleCreateNodes(w http.ResponseWriter, r *http.Request) {
	var ins []graph.NodeInput
	if err := json.NewDecoder(r.Body).Decode(&ins); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	nodes, err := a.graph.CreateNodes(r.Context(), ins)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nodes)
}

func (a *apiServer) handleListNodes(w http.ResponseWriter, r *http.Request) {
	typ := graph.NodeType(r.URL.Query().Get("type"))
	if !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown node type")
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	nodes := a.graph.GetNodesByType(r.Context(), typ, limit, offset)
	writeJSON(w, http.StatusOK, nodesOrEmpty(nodes))
}

func (a *apiServer) handleSearchNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	typ := graph.NodeType(r.URL.Query().Get("type"))
	if typ != "" && !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown node type")
		return
	}
	limit := queryInt(r, "limit", 20)
	nodes := a.graph.SearchNodes(r.Context(), q, typ, limit)
	writeJSON(w, http.StatusOK, nodesOrEmpty(nodes))
}

func (a *apiServer) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node := a.graph.GetNode(r.Context(), r.PathValue("id"))
	if node == nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *apiServer) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var u graph.NodeUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	node, err := a.graph.UpdateNode(r.Context(), r.PathValue("id"), u)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *apiServer) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := a.graph.DeleteNode(r.Context(), r.PathValue("id")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleNodeEdges(w http.ResponseWriter, r *http.Request) {
	typ := graph.EdgeType(r.URL.Query().Get("type"))
	if typ != "" && !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown edge type")
		return
	}
	id := r.PathValue("id")
	var edges []graph.Edge
	switch dir := r.URL.Query().Get("direction"); dir {
	case "", "out":
		edges = a.graph.OutgoingEdges(r.Context(), id, typ)
	case "in":
		edges = a.graph.IncomingEdges(r.Context(), id, typ)
	default:
		writeError(w, http.StatusBadRequest, "direction must be in or out")
		return
	}
	writeJSON(w, http.StatusOK, edgesOrEmpty(edges))
}

// --- Edge handlers ---

func (a *apiServer) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var in graph.EdgeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	edge, err := a.graph.CreateEdge(r.Context(), in)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (a *apiServer) handleCreateEdges(w http.ResponseWriter, r *http.Request) {
	var ins []graph.EdgeInput
	if err := json.NewDecoder(r.Body).Decode(&ins); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	edges, err := a.graph.CreateEdges(r.Context(), ins)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edges)
}

func (a *apiServer) handleGetEdge(w http.ResponseWriter, r *http.Request) {
	edge := a.graph.GetEdge(r.Context(), r.PathValue("id"))
	if edge == nil {
		writeError(w, http.StatusNotFound, "edge not found")
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (a *apiServer) handleUpdateEdge(w http.ResponseWriter, r *http.Request) {
	var u graph.EdgeUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	edge, err := a.graph.UpdateEdge(r.Context(), r.PathValue("id"), u)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (a *apiServer) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	if err := a.graph.DeleteEdge(r.Context(), r.PathValue("id")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (a *apiServer) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, graph.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error("store operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func nodesOrEmpty(ns []graph.Node) []graph.Node {
	if ns == nil {
		return []graph.Node{}
	}
	return ns
}

func edgesOrEmpty(es []graph.Edge) []graph.Edge {
	if es == nil {
		return []graph.Edge{}
	}
	return es
}
