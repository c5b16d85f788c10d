package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// maxBodyBytes caps JSON and fragment request bodies.
const maxBodyBytes = 4 << 20

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}

// requireMethod answers 405 unless r uses one of methods.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// requireScope answers 403 unless the request carries scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if hasScope(r, scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}

// decodeJSON reads a size-limited JSON body into v, answering 400 or 413 on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return false
	}
	return true
}

// pathID parses the trailing numeric segment of a path under prefix.
func pathID(path, prefix string) (int64, error) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	return strconv.ParseInt(idStr, 10, 64)
}

// queryID parses an optional positive integer query parameter; absent is 0.
func queryID(r *http.Request, name string) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return id, nil
}
