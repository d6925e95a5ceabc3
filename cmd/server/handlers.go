package main

import (
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/extid"
)

type registerSystemRequest struct {
	QualifiedName string `json:"qualifiedName"`
}

type upsertRequest struct {
	ElementGUID        string                   `json:"elementGuid"`
	ElementTypeName    string                   `json:"elementTypeName"`
	SystemGUID         string                   `json:"systemGuid"`
	SystemName         string                   `json:"systemName"`
	ExternalIdentifier extid.ExternalIdentifier `json:"externalIdentifier"`
}

type removeRequest struct {
	ElementGUID     string `json:"elementGuid"`
	ElementTypeName string `json:"elementTypeName"`
	SystemGUID      string `json:"systemGuid"`
	SystemName      string `json:"systemName"`
	Identifier      string `json:"identifier"`
}

type confirmRequest struct {
	ElementGUID string `json:"elementGuid"`
	SystemGUID  string `json:"systemGuid"`
	SystemName  string `json:"systemName"`
	Identifier  string `json:"identifier"`
}

type syncResponse struct {
	ElementGUID string           `json:"elementGuid"`
	SystemGUID  string           `json:"systemGuid"`
	Status      extid.SyncStatus `json:"status"`
}

// readRequest reads and validates the body, writing a 400 on failure.
func readRequest(w http.ResponseWriter, r *http.Request, schema *jsonschema.Resolved, v any) bool {
	body, err := readJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := decodeValidated(body, schema, v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// handleRegisterSystem handles POST /api/v1/systems
func (s *Server) handleRegisterSystem(w http.ResponseWriter, r *http.Request) {
	var req registerSystemRequest
	if !readRequest(w, r, registerSystemSchema, &req) {
		return
	}
	ref, err := s.ledger.RegisterExternalSystem(r.Context(), req.QualifiedName)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, ref)
}

// handleGetSystem handles GET /api/v1/systems/{guid}
func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	ref, err := s.ledger.GetExternalSystem(r.Context(), r.PathValue("guid"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, ref)
}

// handleAdd handles POST /api/v1/identifiers
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !readRequest(w, r, upsertSchema, &req) {
		return
	}
	mapping, err := s.ledger.AddExternalIdentifier(r.Context(),
		req.ElementGUID, req.ElementTypeName, req.SystemGUID, req.SystemName, req.ExternalIdentifier)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, mapping)
}

// handleUpdate handles PUT /api/v1/identifiers
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !readRequest(w, r, upsertSchema, &req) {
		return
	}
	mapping, err := s.ledger.UpdateExternalIdentifier(r.Context(),
		req.ElementGUID, req.ElementTypeName, req.SystemGUID, req.SystemName, req.ExternalIdentifier)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, mapping)
}

// handleRemove handles DELETE /api/v1/identifiers. Removing an absent entry succeeds.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !readRequest(w, r, removeSchema, &req) {
		return
	}
	err := s.ledger.RemoveExternalIdentifier(r.Context(),
		req.ElementGUID, req.ElementTypeName, req.SystemGUID, req.SystemName, req.Identifier)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConfirm handles POST /api/v1/identifiers/confirm
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !readRequest(w, r, confirmSchema, &req) {
		return
	}
	mapping, err := s.ledger.ConfirmSynchronization(r.Context(),
		req.ElementGUID, req.SystemGUID, req.SystemName, req.Identifier)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, mapping)
}

// handleLookup handles GET /api/v1/identifiers?system_guid=&system_name=&identifier=&offset=&size=
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, size, err := parsePaging(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.ledger.GetElementsForExternalIdentifier(r.Context(),
		q.Get("system_guid"), q.Get("system_name"), q.Get("identifier"), offset, size)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

// handleElementIdentifiers handles GET /api/v1/elements/{guid}/identifiers
func (s *Server) handleElementIdentifiers(w http.ResponseWriter, r *http.Request) {
	offset, size, err := parsePaging(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.ledger.GetExternalIdentifiersForElement(r.Context(), r.PathValue("guid"), offset, size)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

// handleGetIdentifier handles GET /api/v1/elements/{guid}/systems/{system}
func (s *Server) handleGetIdentifier(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.ledger.GetExternalIdentifier(r.Context(), r.PathValue("guid"), r.PathValue("system"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, mapping)
}

// handleCheckSync handles GET /api/v1/elements/{guid}/systems/{system}/sync
func (s *Server) handleCheckSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	elementUpdatedAt, err := parseTimeParam(q, "element_updated_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	externalUpdatedAt, err := parseTimeParam(q, "external_updated_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	elementGUID, systemGUID := r.PathValue("guid"), r.PathValue("system")
	status, err := s.ledger.CheckSynchronization(r.Context(), elementGUID, systemGUID, elementUpdatedAt, externalUpdatedAt)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, syncResponse{ElementGUID: elementGUID, SystemGUID: systemGUID, Status: status})
}
