package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/server/auth"
)

type upsertKeysRequest struct {
	PublicKey           string `json:"public_key"`
	PrivateKeyEncrypted string `json:"private_key_encrypted"`
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase"`
}

func currentUser(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON body", common.ErrorInvalidInput)
	}
	return nil
}

func (s *Server) upsertKeys(w http.ResponseWriter, r *http.Request) {
	var req upsertKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	rec, err := s.keys.Upsert(r.Context(), currentUser(r), req.PublicKey, req.PrivateKeyEncrypted)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newKeyRecordResponse(rec, s.now()))
}

func (s *Server) generateKeys(w http.ResponseWriter, r *http.Request) {
	var req passphraseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	keys, err := s.keys.Generate(r.Context(), currentUser(r), req.Passphrase)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGeneratedKeysResponse(keys))
}

func (s *Server) myKeys(w http.ResponseWriter, r *http.Request) {
	rec, err := s.keys.MyKeys(r.Context(), currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newKeyRecordResponse(rec, s.now()))
}

func (s *Server) publicKey(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := s.keys.PublicKey(r.Context(), q.Get("user_id"), q.Get("email"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: key})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req passphraseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	expires, err := s.sessions.CreateSession(r.Context(), currentUser(r), req.Passphrase)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Expires: expires})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.EndSession(r.Context(), currentUser(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Status(r.Context(), currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionStatusResponse(st))
}
