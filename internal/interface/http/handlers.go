package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cardforge/cardforge/internal/application/command"
	"github.com/cardforge/cardforge/internal/application/query"
	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/scoretable"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/logger"
)

// studentIDHeader carries the pre-authenticated caller identity.
const studentIDHeader = "X-Student-ID"

// identify extracts and validates the caller's student ID. A missing or
// malformed header is a 401: the upstream web layer should always set it.
func identify(w http.ResponseWriter, r *http.Request) (shared.StudentID, bool) {
	id, err := shared.NewStudentID(r.Header.Get(studentIDHeader))
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid X-Student-ID header")
		return "", false
	}
	return id, true
}

// writeDomainError maps a domain error onto an HTTP status and stable code.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrForbidden) || errors.Is(err, command.ErrAdminOnly) || errors.Is(err, query.ErrRosterForbidden):
		writeJSONError(w, http.StatusForbidden, "forbidden", err.Error())
	case shared.IsInsufficientBalance(err):
		writeJSONError(w, http.StatusPaymentRequired, "insufficient_tokens", "not enough tokens for a generation attempt")
	case errors.Is(err, shared.ErrCardInFlight):
		writeJSONError(w, http.StatusConflict, "card_in_flight", "a generation is already in progress for this student")
	case errors.Is(err, shared.ErrCardNotOwned):
		// Collapsed to 404 so card IDs cannot be probed across students.
		writeJSONError(w, http.StatusNotFound, "not_found", "card not found")
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	case shared.IsConfiguration(err):
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_table", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case shared.IsExternalService(err):
		writeJSONError(w, http.StatusBadGateway, "generation_unavailable", "the generation service is currently unavailable")
	default:
		s.logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "malformed JSON request body: "+err.Error())
		return false
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// DTOs
// ══════════════════════════════════════════════════════════════════════════════

// CardDTO is the wire shape of a card.
type CardDTO struct {
	ID            string            `json:"id"`
	StudentID     string            `json:"student_id"`
	State         string            `json:"state"`
	FailureReason string            `json:"failure_reason,omitempty"`
	TableVersion  string            `json:"table_version"`
	Attributes    map[string]string `json:"attributes"`
	Labels        map[string]string `json:"labels"`
	Level         int               `json:"level"`
	Border        string            `json:"border"`
	ArtifactURL   string            `json:"artifact_url,omitempty"`
	ThumbnailURL  string            `json:"thumbnail_url,omitempty"`
	IsLatest      bool              `json:"is_latest"`
	CreatedAt     time.Time         `json:"created_at"`
	FinalizedAt   *time.Time        `json:"finalized_at,omitempty"`
}

func toCardDTO(c *card.Card) CardDTO {
	attrs := make(map[string]string, len(c.Selection.Picks))
	labels := make(map[string]string, len(c.Selection.Picks))
	for slot, pick := range c.Selection.Picks {
		attrs[string(slot)] = pick.Option
		labels[string(slot)] = scoretable.DisplayLabel(pick.Option)
	}
	return CardDTO{
		ID:            c.ID,
		StudentID:     c.StudentID.String(),
		State:         string(c.State),
		FailureReason: string(c.FailureReason),
		TableVersion:  c.TableVersion.String(),
		Attributes:    attrs,
		Labels:        labels,
		Level:         c.Level,
		Border:        string(c.Border),
		ArtifactURL:   c.ArtifactURL,
		ThumbnailURL:  c.ThumbnailURL,
		IsLatest:      c.IsLatest,
		CreatedAt:     c.CreatedAt,
		FinalizedAt:   c.FinalizedAt,
	}
}

// TransactionDTO is the wire shape of a ledger entry.
type TransactionDTO struct {
	ID            string    `json:"id"`
	Delta         int       `json:"delta"`
	Reason        string    `json:"reason"`
	ReservationID string    `json:"reservation_id,omitempty"`
	CardID        string    `json:"card_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            t.ID,
		Delta:         int(t.Delta),
		Reason:        string(t.Reason),
		ReservationID: t.ReservationID,
		CardID:        t.CardID,
		Note:          t.Note,
		CreatedAt:     t.CreatedAt,
	}
}

// StudentDTO is the wire shape of a roster entry.
type StudentDTO struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Number     string    `json:"number,omitempty"`
	Name       string    `json:"name"`
	Nickname   string    `json:"nickname,omitempty"`
	Role       string    `json:"role"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

func toStudentDTO(s *student.Student) StudentDTO {
	return StudentDTO{
		ID:         s.ID.String(),
		Email:      s.Email,
		Number:     s.Number,
		Name:       s.Name,
		Nickname:   s.Nickname,
		Role:       string(s.Role),
		EnrolledAt: s.EnrolledAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "cardforge", "status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	if s.deps.HealthChecker != nil {
		components = s.deps.HealthChecker(r.Context())
	}
	status := http.StatusOK
	healthy := true
	for _, state := range components {
		if state != "ok" && state != "disabled" {
			healthy = false
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":    healthy,
		"uptime":     s.Uptime().String(),
		"components": components,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT SURFACE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGenerateCard(w http.ResponseWriter, r *http.Request) {
	studentID, ok := identify(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Orchestrator.Request(r.Context(), studentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toCardDTO(c))
}

func (s *Server) handleListMyCards(w http.ResponseWriter, r *http.Request) {
	studentID, ok := identify(w, r)
	if !ok {
		return
	}
	cards, err := s.deps.Cards.ListMine(r.Context(), studentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	dtos := make([]CardDTO, 0, len(cards))
	for _, c := range cards {
		dtos = append(dtos, toCardDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	studentID, ok := identify(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Cards.GetMine(r.Context(), studentID, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(c))
}

func (s *Server) handleHall(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Hall.Gallery(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	studentID, ok := identify(w, r)
	if !ok {
		return
	}
	balance, err := s.deps.Tokens.Balance(r.Context(), studentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": int(balance)})
}

func (s *Server) handleTokenHistory(w http.ResponseWriter, r *http.Request) {
	studentID, ok := identify(w, r)
	if !ok {
		return
	}
	limit := getQueryParamInt(r, "limit", 50)
	entries, err := s.deps.Tokens.History(r.Context(), studentID, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toTransactionDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN SURFACE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGrantTokens(w http.ResponseWriter, r *http.Request) {
	actorID, ok := identify(w, r)
	if !ok {
		return
	}
	var req struct {
		StudentID string `json:"student_id"`
		Amount    int    `json:"amount"`
		Note      string `json:"note"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	targetID, err := shared.NewStudentID(req.StudentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.GrantTokens.Execute(r.Context(), actorID, targetID, shared.Tokens(req.Amount), req.Note); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// tierRequest mirrors one tier band in the publish payload.
type tierRequest struct {
	Label         string              `json:"label"`
	MinScore      float64             `json:"min_score"`
	MaxScore      float64             `json:"max_score"`
	QualityWeight int                 `json:"quality_weight"`
	Options       map[string][]string `json:"options"`
}

func (s *Server) handlePublishTable(w http.ResponseWriter, r *http.Request) {
	actorID, ok := identify(w, r)
	if !ok {
		return
	}
	var req struct {
		Version     string                   `json:"version"`
		Description string                   `json:"description"`
		Units       map[string][]tierRequest `json:"units"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	table := &scoretable.Table{
		Version:     shared.TableVersion(req.Version),
		Description: req.Description,
		Units:       make(map[shared.UnitCode]scoretable.UnitRules, len(req.Units)),
		PublishedAt: time.Now().UTC(),
	}
	for unitCode, tiers := range req.Units {
		code := shared.UnitCode(unitCode)
		rules := scoretable.UnitRules{UnitCode: code, Tiers: make([]scoretable.Tier, 0, len(tiers))}
		for _, t := range tiers {
			options := make(map[learning.Slot][]string, len(t.Options))
			for slot, opts := range t.Options {
				options[learning.Slot(slot)] = opts
			}
			rules.Tiers = append(rules.Tiers, scoretable.Tier{
				Label:         t.Label,
				MinScore:      shared.Score(t.MinScore),
				MaxScore:      shared.Score(t.MaxScore),
				QualityWeight: shared.QualityWeight(t.QualityWeight),
				Options:       options,
			})
		}
		table.Units[code] = rules
	}

	if err := s.deps.ScoreTables.Publish(r.Context(), actorID, table); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"version": req.Version})
}

func (s *Server) handleActivateTable(w http.ResponseWriter, r *http.Request) {
	actorID, ok := identify(w, r)
	if !ok {
		return
	}
	version := shared.TableVersion(r.PathValue("version"))
	if err := s.deps.ScoreTables.Activate(r.Context(), actorID, version); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_version": version.String()})
}

func (s *Server) handleImportRecords(w http.ResponseWriter, r *http.Request) {
	actorID, ok := identify(w, r)
	if !ok {
		return
	}
	var req struct {
		Records []struct {
			StudentID  string    `json:"student_id"`
			UnitCode   string    `json:"unit_code"`
			Score      float64   `json:"score"`
			Homework   float64   `json:"homework"`
			Completion float64   `json:"completion"`
			RecordedAt time.Time `json:"recorded_at"`
		} `json:"records"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rows := make([]command.RecordImport, 0, len(req.Records))
	for _, rec := range req.Records {
		rows = append(rows, command.RecordImport{
			StudentID:  shared.StudentID(rec.StudentID),
			UnitCode:   shared.UnitCode(rec.UnitCode),
			Score:      shared.Score(rec.Score),
			Homework:   shared.Score(rec.Homework),
			Completion: shared.Score(rec.Completion),
			RecordedAt: rec.RecordedAt,
		})
	}

	result, err := s.deps.ImportRecords.Execute(r.Context(), actorID, rows)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnrollStudent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := identify(w, r)
	if !ok {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		Number   string `json:"number"`
		Role     string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	enrolled, err := s.deps.EnrollStudent.Execute(r.Context(), actorID, command.EnrollInput{
		Email:    req.Email,
		Name:     req.Name,
		Nickname: req.Nickname,
		Number:   req.Number,
		Role:     student.Role(req.Role),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(enrolled))
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	actorID, ok := identify(w, r)
	if !ok {
		return
	}
	limit := getQueryParamInt(r, "limit", 100)
	offset := getQueryParamInt(r, "offset", 0)

	roster, err := s.deps.Students.ListFor(r.Context(), actorID, limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	dtos := make([]StudentDTO, 0, len(roster))
	for _, entry := range roster {
		dtos = append(dtos, toStudentDTO(entry))
	}
	writeJSON(w, http.StatusOK, dtos)
}
