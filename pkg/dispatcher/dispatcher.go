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

// Package dispatcher is the entry point of the service. Dispatch validates
// a request, asks the permission gate, routes the request to its action
// handler and reshapes the result for the caller's API version.
//
// A request that cannot complete ends with a pending result naming the one
// input still missing and a continuation token. The client collects that
// input (or hands it to SupplyInput) and dispatches the same request
// again; the token derived from it finds the cached state of the first
// attempt.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/correlation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/executor"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyresolver"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/metrics"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// MissingRequestMessage is returned for a nil request.
const MissingRequestMessage = "params Bundle required!"

// Gate is the permission check the dispatcher runs before any handler.
type Gate interface {
	Check(ctx context.Context, caller types.Caller, req *types.Request) *types.Result
	AllowedKeys(ctx context.Context, caller types.Caller, version int) (types.KeySet, error)
	AccountKey(ctx context.Context, caller types.Caller, name string) (types.KeyID, error)
}

// Config wires a Dispatcher.
type Config struct {
	Gate     Gate
	Keys     keyresolver.KeyStore
	Cache    *continuation.Cache
	Executor *executor.Executor
	Audit    audit.Adapter
	Logger   logger.Logger
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	gate     Gate
	keys     keyresolver.KeyStore
	resolver *keyresolver.Resolver
	cache    *continuation.Cache
	exec     *executor.Executor
	audit    audit.Adapter
	log      logger.Logger
	handlers map[types.Action]handler
}

var (
	ErrMissingDependency = errors.New("dispatcher: missing dependency")
	ErrForeignToken      = errors.New("dispatcher: token belongs to another caller")
)

// New builds a Dispatcher.
func New(cfg *Config) (*Dispatcher, error) {
	if cfg == nil || cfg.Gate == nil || cfg.Keys == nil || cfg.Cache == nil || cfg.Executor == nil {
		return nil, ErrMissingDependency
	}
	d := &Dispatcher{
		gate:  cfg.Gate,
		keys:  cfg.Keys,
		cache: cfg.Cache,
		exec:  cfg.Executor,
		audit: cfg.Audit,
		log:   cfg.Logger,
	}
	if d.audit == nil {
		d.audit = audit.Nop{}
	}
	if d.log == nil {
		d.log = logger.Nop()
	}
	d.resolver = keyresolver.New(cfg.Keys, cfg.Gate, d.log)
	d.handlers = d.routes()
	return d, nil
}

// Dispatch runs one request to completion. It returns nil for an action it
// does not know. The request's streams are closed before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, caller types.Caller, req *types.Request) *types.Result {
	if req == nil {
		return types.Failure(types.ErrorGeneric, MissingRequestMessage)
	}
	defer closeStreams(req)

	ctx, requestID := correlation.Ensure(ctx)
	log := logger.FromContext(ctx, d.log).With(
		logger.String("app", caller.PackageName),
		logger.String("action", req.Action.String()),
		logger.Int("api_version", req.APIVersion))
	start := time.Now()

	if !apiversion.IsSupported(req.APIVersion) {
		log.Warn("unsupported api version")
		res := types.Failure(types.ErrorIncompatibleAPIVersion, apiversion.IncompatibleMessage(req.APIVersion))
		d.record(ctx, caller, req, res, nil, requestID, start)
		return res
	}

	if res := d.gate.Check(ctx, caller, req); res != nil {
		if res.IsPending() {
			res = d.suspend(ctx, caller, req, res)
		}
		d.record(ctx, caller, req, res, nil, requestID, start)
		return res
	}
	if req.Action == types.ActionCheckPermission {
		res := types.Success()
		d.record(ctx, caller, req, res, nil, requestID, start)
		return res
	}

	h, ok := d.handlers[req.Action]
	if !ok {
		log.Debug("unsupported action")
		return nil
	}
	if req.Action == types.ActionSign {
		log.Warn("the sign action is deprecated, use cleartext_sign")
	}

	c, err := d.begin(ctx, caller, req)
	if err != nil {
		log.Error("cannot load request state", logger.Error(err))
		res := types.Failure(types.ErrorGeneric, err.Error())
		d.record(ctx, caller, req, res, nil, requestID, start)
		return res
	}
	defer c.cont.Wipe()

	res := h(ctx, c)
	res = d.finish(ctx, c, res)
	d.record(ctx, caller, req, res, c.keys, requestID, start)
	return res
}

// SupplyInput merges out-of-band input into the pending operation behind
// token. The next dispatch of the same request picks it up.
func (d *Dispatcher) SupplyInput(ctx context.Context, caller types.Caller, token types.ContinuationToken, in continuation.Input) error {
	cont, ok := d.cache.Get(token)
	if !ok {
		return continuation.ErrUnknownToken
	}
	defer cont.Wipe()
	if cont.Caller.ID() != caller.ID() {
		return ErrForeignToken
	}
	if err := d.cache.Supply(token, in); err != nil {
		return err
	}
	_ = d.audit.Log(ctx, &audit.Event{
		Type:      audit.EventInputSupplied,
		Outcome:   audit.OutcomeSuccess,
		Principal: caller.PackageName,
		Action:    cont.Action.String(),
		RequestID: correlation.ID(ctx),
	})
	logger.FromContext(ctx, d.log).Info("input supplied",
		logger.String("app", caller.PackageName),
		logger.String("action", cont.Action.String()))
	return nil
}

// call is the per-dispatch state shared by the handlers.
type call struct {
	caller types.Caller
	req    *types.Request
	token  types.ContinuationToken
	cont   *continuation.Continuation
	cached bool

	// keys collects the key ids the request touched, for auditing.
	keys []types.KeyID
}

// passphrase returns the request's passphrase, which overrides anything
// cached.
func (c *call) passphrase() []byte {
	if c.req.Params.HasPassphrase() {
		return c.req.Params.Passphrase
	}
	return c.cont.Passphrase
}

func (c *call) plan() *executor.Plan {
	return &executor.Plan{
		Caller:      c.caller,
		Request:     c.req,
		Passphrase:  c.passphrase(),
		SessionKeys: c.cont.SessionKeys,
		Time:        c.cont.Timestamp,
	}
}

func (d *Dispatcher) begin(ctx context.Context, caller types.Caller, req *types.Request) (*call, error) {
	token := continuation.Derive(caller, req)
	c := &call{caller: caller, req: req, token: token}
	if cont, ok := d.cache.Get(token); ok {
		if cont.Caller.ID() != caller.ID() {
			cont.Wipe()
			return nil, ErrForeignToken
		}
		c.cont, c.cached = cont, true
		return c, nil
	}
	c.cont = d.cache.Begin(token, caller, req.Action)
	return c, nil
}

// suspend stores a continuation for a pending result produced before any
// handler ran, so the grant can be answered with a token like any other
// pending input.
func (d *Dispatcher) suspend(ctx context.Context, caller types.Caller, req *types.Request, res *types.Result) *types.Result {
	c, err := d.begin(ctx, caller, req)
	if err != nil {
		return types.Failure(types.ErrorGeneric, err.Error())
	}
	defer c.cont.Wipe()
	return d.finish(ctx, c, res)
}

// finish applies the continuation lifecycle and the version shim. Success
// drops the cached state. Pending stores it and hands out the token. An
// error keeps whatever was cached so the user can retry, and never
// carries a token.
func (d *Dispatcher) finish(ctx context.Context, c *call, res *types.Result) *types.Result {
	log := logger.FromContext(ctx, d.log)
	switch {
	case res == nil:
		log.Error("handler returned no result", logger.String("action", c.req.Action.String()))
		return types.Failure(types.ErrorEngineContractViolation, "no result")
	case res.IsSuccess():
		if c.cached {
			d.cache.Invalidate(c.token)
		}
		res = apiversion.Shim(c.req.APIVersion, res)
		attachHint(c.req.Action, res)
	case res.IsPending():
		if err := d.cache.Put(c.cont); err != nil {
			log.Error("cannot store continuation", logger.Error(err))
			return types.Failuref(types.ErrorGeneric, "cannot store continuation: %v", err)
		}
		res.Token = c.token
	default:
		res.Token = ""
	}
	return res
}

// attachHint adds the advisory follow-up for a successful result.
func attachHint(action types.Action, res *types.Result) {
	if action == types.ActionGetKey && len(res.KeyIDs) > 0 {
		res.Hint = &types.Hint{Kind: types.HintShowKey, KeyID: res.KeyIDs[0]}
		return
	}
	sig := res.Signature
	if sig == nil {
		return
	}
	switch {
	case sig.Status == types.SignatureKeyMissing:
		res.Hint = &types.Hint{Kind: types.HintImportFromKeyserver, KeyID: sig.KeyID}
	case sig.Status.KeyKnown():
		res.Hint = &types.Hint{Kind: types.HintShowKey, KeyID: sig.KeyID}
	}
}

// record emits metrics and the audit event for a finished dispatch.
func (d *Dispatcher) record(ctx context.Context, caller types.Caller, req *types.Request, res *types.Result, keys []types.KeyID, requestID string, start time.Time) {
	action := req.Action.String()
	metrics.RecordDispatch(action, res.Status.String(), time.Since(start).Seconds())

	event := &audit.Event{
		Type:      eventType(req.Action),
		Principal: caller.PackageName,
		Action:    action,
		RequestID: requestID,
	}
	for _, id := range types.UniqueKeyIDs(keys) {
		event.KeyIDs = append(event.KeyIDs, id.String())
	}
	log := logger.FromContext(ctx, d.log)
	switch {
	case res.IsSuccess():
		event.Outcome = audit.OutcomeSuccess
		log.Info("request completed", logger.String("app", caller.PackageName), logger.String("action", action))
	case res.IsPending():
		event.Outcome = audit.OutcomePending
		event.Detail = res.Required.Kind.String()
		if res.Required.Kind == types.InputPermissionGrant {
			event.Outcome = audit.OutcomeDenied
		}
		metrics.RecordPending(action, res.Required.Kind.String())
		log.Info("request pending",
			logger.String("app", caller.PackageName),
			logger.String("action", action),
			logger.String("required", res.Required.Kind.String()))
	default:
		event.Outcome = audit.OutcomeFailure
		event.Detail = res.Err.Message
		metrics.RecordError(action, res.Err.Kind.String())
		log.Warn("request failed",
			logger.String("app", caller.PackageName),
			logger.String("action", action),
			logger.String("error", res.Err.Kind.String()))
	}
	if err := d.audit.Log(ctx, event); err != nil {
		log.Warn("audit log failed", logger.Error(err))
	}
}

func eventType(a types.Action) audit.EventType {
	switch a {
	case types.ActionCheckPermission:
		return audit.EventCheckPermission
	case types.ActionClearTextSign, types.ActionSign, types.ActionDetachedSign:
		return audit.EventSign
	case types.ActionEncrypt, types.ActionSignAndEncrypt:
		return audit.EventEncrypt
	case types.ActionDecryptVerify, types.ActionDecryptMetadata:
		return audit.EventDecrypt
	case types.ActionGetKey:
		return audit.EventKeyExport
	case types.ActionBackup:
		return audit.EventBackup
	default:
		return audit.EventKeyLookup
	}
}

func closeStreams(req *types.Request) {
	closeQuietly(req.Input)
	closeQuietly(req.Output)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
