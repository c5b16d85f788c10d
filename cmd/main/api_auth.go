package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    key_prefix    TEXT      NOT NULL,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL,
    created_at    INTEGER   NOT NULL,
    last_used_at  INTEGER
);
`

// authHeader carries the raw API key.
const authHeader = "X-Pluginkit-Key"

// keyPrefixLen is how much of a raw key is kept in clear to tell keys apart.
const keyPrefixLen = len("pk_") + 8

// scopeMaster grants every scope.
const scopeMaster = "*"

// scopeActions lists the actions of each scope family. A key holds
// "family:action", "family:*" for the whole family, or "*".
var scopeActions = map[string][]string{
	"fragments": {"read", "write"},
	"terms":     {"read", "write"},
	"server":    {"read", "config", "control"},
	"auth":      {"manage"},
}

var errNoScopes = errors.New("at least one scope is required")

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// Permissions holds the authentication info for a request. KeyID is 0 while
// the API is open.
type Permissions struct {
	KeyID  int64
	Scopes []string
}

// Grants reports whether the permissions cover scope.
func (p *Permissions) Grants(scope string) bool {
	family, _, _ := strings.Cut(scope, ":")
	for _, s := range p.Scopes {
		if s == scopeMaster || s == scope || s == family+":*" {
			return true
		}
	}
	return false
}

// normalizeScopes checks every requested scope and returns them sorted
// without duplicates.
func normalizeScopes(scopes []string) ([]string, error) {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s != scopeMaster {
			family, action, ok := strings.Cut(s, ":")
			actions, known := scopeActions[family]
			if !ok || !known || (action != "*" && !slices.Contains(actions, action)) {
				return nil, fmt.Errorf("unknown scope '%s'", s)
			}
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errNoScopes
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// AuthAPI manages API keys and guards the admin API with them.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupAuthSchema(db *sql.DB) error {
	if _, err := db.Exec(authSchema); err != nil {
		return fmt.Errorf("could not create auth schema: %w", err)
	}
	return nil
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		db:     db,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// APIKeyInfo describes a stored key. The raw key is never returned again
// after creation; Prefix identifies it.
type APIKeyInfo struct {
	ID          int64      `json:"id"`
	Prefix      string     `json:"prefix"`
	Scopes      []string   `json:"scopes"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key.
type CreateKeyResponse struct {
	ID     int64    `json:"id"`
	RawKey string   `json:"raw_key"`
	Prefix string   `json:"prefix"`
	Scopes []string `json:"scopes"`
}

func (a *AuthAPI) countKeys(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&n)
	return n, err
}

// Authenticate resolves the key in the auth header to its permissions.
// While no key exists the API is open with the master scope, so the first
// key can be created.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyCount, err := a.countKeys(r.Context())
		if err != nil {
			a.logger.Error("Authenticate failed to count keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		var perms *Permissions
		if keyCount == 0 {
			perms = &Permissions{Scopes: []string{scopeMaster}}
		} else {
			perms, err = a.lookupKey(r.Context(), r.Header.Get(authHeader))
			if errors.Is(err, sql.ErrNoRows) {
				respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}
			if err != nil {
				a.logger.Error("Authenticate failed to query API key", "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
		}

		ctx := context.WithValue(r.Context(), contextKeyPermissions, perms)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookupKey loads the permissions of rawKey and stamps its last use. An
// empty or unknown key gives sql.ErrNoRows.
func (a *AuthAPI) lookupKey(ctx context.Context, rawKey string) (*Permissions, error) {
	if rawKey == "" {
		return nil, sql.ErrNoRows
	}
	perms := &Permissions{}
	var scopes string
	err := a.db.QueryRowContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE key_hash = ? RETURNING id, scopes`,
		time.Now().Unix(), hashAPIKey(rawKey)).Scan(&perms.KeyID, &scopes)
	if err != nil {
		return nil, err
	}
	perms.Scopes = strings.Fields(scopes)
	return perms, nil
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPost) || !requireScope(w, r, "auth:manage") {
		return
	}
	if r.Method == http.MethodGet {
		a.listKeys(w, r)
		return
	}
	a.createKey(w, r)
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r.URL.Path, "/api/auth/keys/")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if !requireMethod(w, r, http.MethodDelete) || !requireScope(w, r, "auth:manage") {
		return
	}
	a.deleteKey(w, r, id)
}

// handleCheckMe returns the caller's key id and scopes.
func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing key")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"id":     perms.KeyID,
		"scopes": perms.Scopes,
	})
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	rows, err := a.db.QueryContext(r.Context(),
		`SELECT id, key_prefix, scopes, description, created_at, last_used_at FROM api_keys ORDER BY id`)
	if err != nil {
		a.logger.Error("Failed to query API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := make([]APIKeyInfo, 0)
	for rows.Next() {
		var key APIKeyInfo
		var scopes string
		var created int64
		var lastUsed sql.NullInt64
		if err = rows.Scan(&key.ID, &key.Prefix, &scopes, &key.Description, &created, &lastUsed); err != nil {
			a.logger.Error("Failed to scan API key row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		key.Scopes = strings.Fields(scopes)
		key.CreatedAt = time.Unix(created, 0).UTC()
		if lastUsed.Valid {
			t := time.Unix(lastUsed.Int64, 0).UTC()
			key.LastUsedAt = &t
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		a.logger.Error("Failed to iterate API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	keyCount, err := a.countKeys(r.Context())
	if err != nil {
		a.logger.Error("Failed to count API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}

	// The first key is always a master key so the API cannot be locked
	// without a way back in.
	scopes := []string{scopeMaster}
	if keyCount > 0 {
		if scopes, err = normalizeScopes(req.Scopes); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		a.logger.Error("Failed to generate new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}
	prefix := rawKey[:keyPrefixLen]

	var newID int64
	err = a.db.QueryRowContext(r.Context(),
		`INSERT INTO api_keys (key_hash, key_prefix, scopes, description, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), prefix, strings.Join(scopes, " "), req.Description, time.Now().Unix()).Scan(&newID)
	if err != nil {
		a.logger.Error("Failed to insert new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}

	a.logger.Info("API key created", "id", newID, "prefix", prefix, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{
		ID:     newID,
		RawKey: rawKey,
		Prefix: prefix,
		Scopes: scopes,
	})
}

// deleteKey removes a key unless it is the last one holding the master
// scope.
func (a *AuthAPI) deleteKey(w http.ResponseWriter, r *http.Request, id int64) {
	tx, err := a.db.BeginTx(r.Context(), nil)
	if err != nil {
		a.logger.Error("Failed to begin transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var scopes string
	err = tx.QueryRowContext(r.Context(), "SELECT scopes FROM api_keys WHERE id = ?", id).Scan(&scopes)
	if errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to query API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}

	if slices.Contains(strings.Fields(scopes), scopeMaster) {
		var masters int
		err = tx.QueryRowContext(r.Context(),
			`SELECT COUNT(*) FROM api_keys WHERE ' ' || scopes || ' ' LIKE '% * %'`).Scan(&masters)
		if err != nil {
			a.logger.Error("Failed to count master keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
			return
		}
		if masters <= 1 {
			respondWithError(w, http.StatusBadRequest, "Cannot delete the last master key")
			return
		}
	}

	if _, err = tx.ExecContext(r.Context(), "DELETE FROM api_keys WHERE id = ?", id); err != nil {
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if err = tx.Commit(); err != nil {
		a.logger.Error("Failed to commit key deletion", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// hasScope reports whether the request's permissions cover scope.
func hasScope(r *http.Request, scope string) bool {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	return ok && perms.Grants(scope)
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "pk_" + hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
