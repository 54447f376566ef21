package http

import (
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

type tagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

type tagPatchRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
	Icon  *string `json:"icon"`
}

type geopointRequest struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "create_tag", err)
		return
	}

	tag, err := s.tags.CreateTag(r.Context(), owner, services.TagInput{
		Name:  sanitizeInput(req.Name),
		Color: req.Color,
		Icon:  sanitizeInput(req.Icon),
	})
	if err != nil {
		s.fail(w, r, "create_tag", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Field("tag", tag).Write(w)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	tags, err := s.tags.ListTags(r.Context(), owner)
	if err != nil {
		s.fail(w, r, "list_tags", err)
		return
	}
	if tags == nil {
		tags = []core.Tag{}
	}
	NewJSONResponse().Field("tags", tags).Write(w)
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req tagPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "update_tag", err)
		return
	}

	tag, err := s.tags.UpdateTag(r.Context(), r.PathValue("id"), owner, services.TagPatch{
		Name:  req.Name,
		Color: req.Color,
		Icon:  req.Icon,
	})
	if err != nil {
		s.fail(w, r, "update_tag", err)
		return
	}
	NewJSONResponse().Field("tag", tag).Write(w)
}

// handleDeleteTag detaches the tag from its transactions; balances are unaffected.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	if err := s.tags.DeleteTag(r.Context(), r.PathValue("id"), owner); err != nil {
		s.fail(w, r, "delete_tag", err)
		return
	}
	NewJSONResponse().Message("tag deleted").Write(w)
}

func (s *Server) handleCreateGeopoint(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req geopointRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "create_geopoint", err)
		return
	}
	typ, err := core.ParseTransactionType(req.Type)
	if err != nil {
		s.fail(w, r, "create_geopoint", err)
		return
	}

	g, err := s.geopoints.CreateGeopoint(r.Context(), owner, services.GeopointInput{
		Name:      sanitizeInput(req.Name),
		Type:      typ,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Address:   sanitizeInput(req.Address),
	})
	if err != nil {
		s.fail(w, r, "create_geopoint", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Field("geopoint", g).Write(w)
}

func (s *Server) handleListGeopoints(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	points, err := s.geopoints.ListGeopoints(r.Context(), owner)
	if err != nil {
		s.fail(w, r, "list_geopoints", err)
		return
	}
	if points == nil {
		points = []core.Geopoint{}
	}
	NewJSONResponse().Field("geopoints", points).Write(w)
}
