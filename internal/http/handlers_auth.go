package http

import (
	"net/http"

	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "register", err)
		return
	}

	user, err := s.users.Register(r.Context(), req.Email, req.Password, sanitizeInput(req.FullName))
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "User registered", applog.FieldUserID, user.ID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Field("token", token).
		Field("user", user).
		Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "login", err)
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		status, _ := statusFor(err)
		if status == http.StatusUnauthorized {
			ErrorResponse(status, "invalid email or password").Write(w)
			return
		}
		s.fail(w, r, "login", err)
		return
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		s.fail(w, r, "login", err)
		return
	}

	NewJSONResponse().
		Field("token", token).
		Field("user", user).
		Write(w)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	user, err := s.users.GetProfile(r.Context(), owner)
	if err != nil {
		s.fail(w, r, "profile", err)
		return
	}
	NewJSONResponse().Field("user", user).Write(w)
}

type profilePatchRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req profilePatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "update_profile", err)
		return
	}
	if req.FullName != nil {
		name := sanitizeInput(*req.FullName)
		req.FullName = &name
	}

	user, err := s.users.UpdateProfile(r.Context(), owner, services.ProfilePatch{
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		s.fail(w, r, "update_profile", err)
		return
	}
	NewJSONResponse().Field("user", user).Write(w)
}

// handleDeleteProfile removes the caller with everything they own. Tokens
// issued earlier keep verifying but every lookup then answers 404.
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	if err := s.users.DeleteUser(r.Context(), owner); err != nil {
		s.fail(w, r, "delete_profile", err)
		return
	}
	s.ledger.ForgetUser(r.Context(), owner)

	applog.FromContext(r.Context()).InfoContext(r.Context(), "User deleted", applog.FieldUserID, owner)
	NewJSONResponse().Message("user deleted").Write(w)
}
