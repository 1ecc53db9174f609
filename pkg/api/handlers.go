package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/envelope"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/sentinel"
)

const maxBodyBytes = 1 << 20

// ConsoleVersion is the manifest version consoles bind against.
const ConsoleVersion = "pilgrim-console-v1.0.1"

// SubjectFunc extracts the authenticated subject from a request context.
type SubjectFunc func(ctx context.Context) (string, bool)

// Handler serves the attestation routes.
type Handler struct {
	svc     *attest.Service
	version string
	subject SubjectFunc
}

// Health is the /health body.
type Health struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Manifest is the console manifest v1.
type Manifest struct {
	ConsoleVersion    string   `json:"console_version"`
	DeterministicCore bool     `json:"deterministic_core"`
	LedgerEnabled     bool     `json:"ledger_enabled"`
	SupportsVariants  bool     `json:"supports_variants"`
	Protocol          string   `json:"protocol"`
	Mode              string   `json:"mode"`
	Steps             []string `json:"steps"`
}

// VerifyResult is the /verify body.
type VerifyResult struct {
	OK       bool   `json:"ok"`
	Checksum string `json:"checksum,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// ReceiptVerifyRequest is the /receipts/verify body.
type ReceiptVerifyRequest struct {
	Receipt *executor.Receipt `json:"receipt"`
	Intent  *intent.Intent    `json:"intent"`
}

// ReceiptVerifyResult reports a receipt replay.
type ReceiptVerifyResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LedgerStatus is the /ledger/verify body.
type LedgerStatus struct {
	OK      bool   `json:"ok"`
	Records int    `json:"records"`
	Head    string `json:"head,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, "failed to read body")
		return nil, false
	}
	return body, true
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Health{OK: true, Service: "pilgrim", Version: h.version})
}

func (h *Handler) manifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Manifest{
		ConsoleVersion:    ConsoleVersion,
		DeterministicCore: true,
		LedgerEnabled:     true,
		SupportsVariants:  true,
		Protocol:          envelope.ProtocolVersion,
		Mode:              string(h.svc.Mode()),
		Steps:             h.svc.Steps(),
	})
}

// verify answers 200 for a valid envelope, 422 for a failed check and 400
// for input that is not an envelope at all.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env, err := envelope.Parse(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, VerifyResult{Error: err.Error(), Code: attest.ErrorCode(err)})
		return
	}
	if err := env.Verify(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, VerifyResult{Error: err.Error(), Code: attest.ErrorCode(err)})
		return
	}
	writeJSON(w, http.StatusOK, VerifyResult{OK: true, Checksum: env.Checksum.Hex})
}

func (h *Handler) seal(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	in, err := envelope.ParseIntent(body)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error(), attest.ErrorCode(err))
		return
	}
	env, err := h.svc.Seal(in)
	if err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error(), attest.ErrorCode(err))
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *Handler) requireSubject(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.subject != nil {
		if sub, ok := h.subject(r.Context()); ok && sub != "" {
			return sub, true
		}
	}
	WriteUnauthorized(w, "Token subject is required")
	return "", false
}

// run returns the sealed response envelope: 200 when completed, 422 when
// rejected or failed.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.requireSubject(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.svc.SubmitJSON(r.Context(), subject, body)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvariantViolation) || errors.Is(err, sentinel.ErrHalted) {
			WriteConflict(w, err.Error(), attest.ErrorCode(err))
			return
		}
		WriteInternal(w, err)
		return
	}

	status := http.StatusOK
	if resp.Status != envelope.StatusCompleted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (h *Handler) verifyReceipt(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.requireSubject(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req ReceiptVerifyRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Receipt == nil || req.Intent == nil {
		WriteBadRequest(w, "body must be {\"receipt\": ..., \"intent\": ...}")
		return
	}

	err := h.svc.VerifyReceipt(r.Context(), subject, req.Receipt, *req.Intent)
	if err != nil {
		res := ReceiptVerifyResult{Error: err.Error()}
		var verr *executor.VerificationError
		if errors.As(err, &verr) {
			res.Reason = string(verr.Reason)
		}
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, ReceiptVerifyResult{OK: true})
}

// verifyLedger answers 422 for a broken chain, including a backend that can
// no longer be loaded.
func (h *Handler) verifyLedger(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.VerifyLedger(r.Context()); err != nil {
		status := LedgerStatus{Error: err.Error(), Code: attest.ErrorCode(err)}
		if records, rerr := h.svc.Records(r.Context()); rerr == nil {
			status.Records = len(records)
		}
		writeJSON(w, http.StatusUnprocessableEntity, status)
		return
	}
	records, err := h.svc.Records(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	head, err := h.svc.Ledger().Head(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LedgerStatus{OK: true, Records: len(records), Head: head})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Records(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "record index must be a non-negative integer")
		return
	}
	records, err := h.svc.Records(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if idx >= uint64(len(records)) {
		WriteNotFound(w, fmt.Sprintf("no ledger record at index %d", idx))
		return
	}
	writeJSON(w, http.StatusOK, records[idx])
}
