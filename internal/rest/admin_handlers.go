// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/auth"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/correlation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// =============================================================================
// Apps
// =============================================================================

// ListAppsHandler handles GET /api/v1/apps.
func (s *Server) ListAppsHandler(w http.ResponseWriter, r *http.Request) {
	apps, err := s.apps.List(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"apps": apps}, http.StatusOK)
}

// RegisterAppHandler handles POST /api/v1/apps. Re-registering keeps the
// app's allowed keys and accounts.
func (s *Server) RegisterAppHandler(w http.ResponseWriter, r *http.Request) {
	var body RegisterAppRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	if err := ValidatePackageName(body.PackageName); err != nil {
		handleError(w, err)
		return
	}
	app, err := s.apps.Register(r.Context(), types.Caller{
		PackageName:     body.PackageName,
		CertFingerprint: body.CertFingerprint,
	})
	s.auditAdmin(r, audit.EventAppRegister, body.PackageName, nil, err)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, app, http.StatusCreated)
}

// GetAppHandler handles GET /api/v1/apps/{package}.
func (s *Server) GetAppHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := packageParam(w, r)
	if !ok {
		return
	}
	app, err := s.apps.Get(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, app, http.StatusOK)
}

// DeleteAppHandler handles DELETE /api/v1/apps/{package}.
func (s *Server) DeleteAppHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := packageParam(w, r)
	if !ok {
		return
	}
	err := s.apps.Delete(r.Context(), name)
	s.auditAdmin(r, audit.EventAppDelete, name, nil, err)
	if err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AllowKeysHandler handles POST /api/v1/apps/{package}/keys.
func (s *Server) AllowKeysHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := packageParam(w, r)
	if !ok {
		return
	}
	var body KeyIDsRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	ids := types.UniqueKeyIDs(body.KeyIDs)
	if len(ids) == 0 {
		writeErrorWithMessage(w, ErrInvalidRequest, "key_ids required", http.StatusBadRequest)
		return
	}
	for _, id := range ids {
		if _, err := s.keys.Get(id); err != nil {
			handleError(w, err)
			return
		}
	}
	err := s.apps.AllowKeys(r.Context(), name, ids...)
	s.auditAdmin(r, audit.EventAppAllow, name, ids, err)
	if err != nil {
		handleError(w, err)
		return
	}
	s.writeApp(w, r, name)
}

// RevokeKeyHandler handles DELETE /api/v1/apps/{package}/keys/{id}.
func (s *Server) RevokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := packageParam(w, r)
	if !ok {
		return
	}
	id, err := parseKeyIDParam(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	err = s.apps.RevokeKeys(r.Context(), name, id)
	s.auditAdmin(r, audit.EventAppRevoke, name, []types.KeyID{id}, err)
	if err != nil {
		handleError(w, err)
		return
	}
	s.writeApp(w, r, name)
}

// SetAccountHandler handles PUT /api/v1/apps/{package}/accounts/{name}.
func (s *Server) SetAccountHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := packageParam(w, r)
	if !ok {
		return
	}
	account := chi.URLParam(r, "name")
	if err := ValidateAccountName(account); err != nil {
		handleError(w, err)
		return
	}
	var body AccountRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	if body.KeyID != types.NoKey {
		if _, err := s.keys.Get(body.KeyID); err != nil {
			handleError(w, err)
			return
		}
	}
	err := s.apps.SetAccount(r.Context(), name, account, body.KeyID)
	s.auditAdmin(r, audit.EventAppAccount, name, []types.KeyID{body.KeyID}, err)
	if err != nil {
		handleError(w, err)
		return
	}
	s.writeApp(w, r, name)
}

// DeleteAccountHandler handles DELETE /api/v1/apps/{package}/accounts/{name}.
func (s *Server) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := packageParam(w, r)
	if !ok {
		return
	}
	err := s.apps.DeleteAccount(r.Context(), name, chi.URLParam(r, "name"))
	s.auditAdmin(r, audit.EventAppAccount, name, nil, err)
	if err != nil {
		handleError(w, err)
		return
	}
	s.writeApp(w, r, name)
}

func (s *Server) writeApp(w http.ResponseWriter, r *http.Request, name string) {
	app, err := s.apps.Get(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, app, http.StatusOK)
}

func packageParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "package")
	if err := ValidatePackageName(name); err != nil {
		handleError(w, err)
		return "", false
	}
	return name, true
}

// =============================================================================
// Keys
// =============================================================================

// ListKeysHandler handles GET /api/v1/keys. ?secret=true restricts the
// listing to keys with secret material.
func (s *Server) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	list := s.keys.List
	if secret, _ := strconv.ParseBool(r.URL.Query().Get("secret")); secret {
		list = s.keys.SecretKeys
	}
	keys, err := list()
	if err != nil {
		handleError(w, err)
		return
	}
	if addr := r.URL.Query().Get("address"); addr != "" {
		filtered := keys[:0]
		for _, k := range keys {
			if k.HasAddress(addr) {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}
	writeJSON(w, KeyListResponse{Keys: keys}, http.StatusOK)
}

// GenerateKeyHandler handles POST /api/v1/keys.
func (s *Server) GenerateKeyHandler(w http.ResponseWriter, r *http.Request) {
	var body GenerateKeyRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	defer memzero.Zero(body.Passphrase)
	if strings.TrimSpace(body.Name) == "" && strings.TrimSpace(body.Email) == "" {
		writeErrorWithMessage(w, ErrInvalidRequest, "name or email required", http.StatusBadRequest)
		return
	}
	if body.Bits == 0 {
		body.Bits = s.keyBits
	}

	info, err := s.keys.Generate(keyring.GenerateOptions{
		Name:       body.Name,
		Comment:    body.Comment,
		Email:      body.Email,
		Bits:       body.Bits,
		Passphrase: body.Passphrase,
	})
	var ids []types.KeyID
	if info != nil {
		ids = []types.KeyID{info.KeyID}
	}
	s.auditAdmin(r, audit.EventKeyGenerate, "", ids, err)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, KeyResponse{Key: info}, http.StatusCreated)
}

// ImportKeyHandler handles POST /api/v1/keys/import.
func (s *Server) ImportKeyHandler(w http.ResponseWriter, r *http.Request) {
	var body ImportKeyRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	defer memzero.Zero(body.Passphrase)
	if len(body.KeyData) == 0 {
		writeErrorWithMessage(w, ErrInvalidRequest, "key_data required", http.StatusBadRequest)
		return
	}

	infos, err := s.keys.Import(body.KeyData, body.Passphrase)
	ids := make([]types.KeyID, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.KeyID)
	}
	s.auditAdmin(r, audit.EventKeyImport, "", ids, err)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, KeyListResponse{Keys: infos}, http.StatusCreated)
}

// GetKeyHandler handles GET /api/v1/keys/{id}. Subkey ids resolve to their
// key ring.
func (s *Server) GetKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyIDParam(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	info, err := s.keys.Get(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, KeyResponse{Key: info}, http.StatusOK)
}

// ExportKeyHandler handles GET /api/v1/keys/{id}/export. Only public
// material is exported here; secret export goes through the backup action.
func (s *Server) ExportKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyIDParam(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	if _, err := s.keys.Get(id); err != nil {
		handleError(w, err)
		return
	}

	var buf bytes.Buffer
	res, err := s.engine.Export(r.Context(), &engine.ExportInput{
		KeyIDs: []types.KeyID{id},
		Armor:  true,
		Output: &buf,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	if res.Failed {
		msg := "export failed"
		if last, ok := res.Log.Last(); ok {
			msg = last.Message
		}
		writeErrorWithMessage(w, ErrInternalError, msg, http.StatusInternalServerError)
		return
	}
	writeJSON(w, ExportKeyResponse{KeyIDs: res.Exported, KeyData: buf.String()}, http.StatusOK)
}

// DeleteKeyHandler handles DELETE /api/v1/keys/{id}.
func (s *Server) DeleteKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyIDParam(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	err = s.keys.Delete(id)
	s.auditAdmin(r, audit.EventKeyDelete, "", []types.KeyID{id}, err)
	if err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyKeyHandler handles POST /api/v1/keys/{id}/verify. ?verified=false
// clears the flag.
func (s *Server) VerifyKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyIDParam(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	verified := true
	if v := r.URL.Query().Get("verified"); v != "" {
		if verified, err = strconv.ParseBool(v); err != nil {
			writeErrorWithMessage(w, ErrInvalidRequest, "verified must be a boolean", http.StatusBadRequest)
			return
		}
	}
	err = s.keys.SetVerified(id, verified)
	s.auditAdmin(r, audit.EventKeyVerify, "", []types.KeyID{id}, err)
	if err != nil {
		handleError(w, err)
		return
	}
	s.writeKey(w, id)
}

// RevokeKeyLocallyHandler handles POST /api/v1/keys/{id}/revoke. The key
// is marked revoked in the local ring only.
func (s *Server) RevokeKeyLocallyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyIDParam(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	err = s.keys.Revoke(id)
	s.auditAdmin(r, audit.EventKeyRevoke, "", []types.KeyID{id}, err)
	if err != nil {
		handleError(w, err)
		return
	}
	s.writeKey(w, id)
}

func (s *Server) writeKey(w http.ResponseWriter, id types.KeyID) {
	info, err := s.keys.Get(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, KeyResponse{Key: info}, http.StatusOK)
}

// =============================================================================
// Audit
// =============================================================================

// AuditEventsHandler handles GET /api/v1/audit. Supported filters: type,
// outcome, principal, key_id, request_id, since (RFC 3339) and limit.
func (s *Server) AuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &audit.Query{
		Principal: q.Get("principal"),
		KeyID:     strings.ToUpper(q.Get("key_id")),
		RequestID: q.Get("request_id"),
	}
	for _, t := range q["type"] {
		query.Types = append(query.Types, audit.EventType(t))
	}
	for _, o := range q["outcome"] {
		query.Outcomes = append(query.Outcomes, audit.Outcome(o))
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorWithMessage(w, ErrInvalidRequest, "since must be RFC 3339", http.StatusBadRequest)
			return
		}
		query.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeErrorWithMessage(w, ErrInvalidRequest, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}

	events, err := s.audit.Events(r.Context(), query)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"events": events}, http.StatusOK)
}

// auditAdmin records an administrative operation. Failures to record are
// logged and otherwise ignored.
func (s *Server) auditAdmin(r *http.Request, typ audit.EventType, app string, ids []types.KeyID, opErr error) {
	ctx := r.Context()
	event := &audit.Event{
		Type:      typ,
		Outcome:   audit.OutcomeSuccess,
		Principal: principal(ctx),
		Action:    string(typ),
		RequestID: correlation.ID(ctx),
	}
	for _, id := range ids {
		if id != types.NoKey {
			event.KeyIDs = append(event.KeyIDs, id.String())
		}
	}
	if app != "" {
		event.Metadata = map[string]string{"app": app}
	}
	if opErr != nil {
		event.Outcome = audit.OutcomeFailure
		event.Detail = opErr.Error()
	}
	if err := s.audit.Log(ctx, event); err != nil {
		logger.FromContext(ctx, s.logger).Warn("Audit log failed", logger.Error(err))
	}
}

func principal(ctx context.Context) string {
	if identity := auth.GetIdentity(ctx); identity != nil {
		return identity.Subject
	}
	return "anonymous"
}
