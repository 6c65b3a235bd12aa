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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/auth"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// DispatchHandler handles POST /api/v1/pgp/{action}. Pending and error
// results are part of the protocol and are returned with 200.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var body DispatchRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	defer memzero.Zero(body.Params.Passphrase)

	req := &types.Request{
		Action:     types.ParseAction(chi.URLParam(r, "action")),
		APIVersion: body.APIVersion,
		Params:     body.Params,
	}
	if body.Input != nil {
		req.Input = io.NopCloser(bytes.NewReader(body.Input))
	}
	var out *bytes.Buffer
	if body.wantsOutput() {
		out = &bytes.Buffer{}
		req.Output = nopWriteCloser{out}
	}

	res := s.dispatcher.Dispatch(r.Context(), caller, req)
	if res == nil {
		writeErrorWithMessage(w, ErrInvalidRequest,
			fmt.Sprintf("unsupported action %q", SanitizeString(req.Action.String())), http.StatusNotFound)
		return
	}

	resp := DispatchResponse{Result: res}
	if res.IsSuccess() && out != nil && out.Len() > 0 {
		resp.Output = out.Bytes()
	}
	writeJSON(w, resp, http.StatusOK)
}

// SupplyInputHandler handles POST /api/v1/continuations/{token}.
func (s *Server) SupplyInputHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var body SupplyInputRequest
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	defer func() {
		memzero.Zero(body.Passphrase)
		memzero.Zero(body.BackupCode)
		for _, k := range body.SessionKeys {
			memzero.Zero(k)
		}
	}()
	if body.empty() {
		writeErrorWithMessage(w, ErrInvalidRequest, "passphrase, backup_code or session_keys required", http.StatusBadRequest)
		return
	}

	token := types.ContinuationToken(chi.URLParam(r, "token"))
	err = s.dispatcher.SupplyInput(r.Context(), caller, token, continuation.Input{
		Passphrase:  body.Passphrase,
		BackupCode:  body.BackupCode,
		SessionKeys: body.SessionKeys,
	})
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Warn("Supply input rejected",
			logger.String("app", caller.PackageName),
			logger.Error(err))
		handleError(w, err)
		return
	}
	writeJSON(w, StatusResponse{Status: "accepted"}, http.StatusOK)
}

// caller derives the dispatch caller from the authenticated identity.
func (s *Server) caller(r *http.Request) (types.Caller, error) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		return types.Caller{}, ErrUnauthorized
	}
	caller, err := identity.Caller()
	if err != nil {
		return types.Caller{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return caller, nil
}

// decodeJSON reads a JSON body. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrBodyTooLarge
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
