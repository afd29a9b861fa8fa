package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"course-marketplace/internal/domain"
	"course-marketplace/internal/domain/model"
	"course-marketplace/internal/infra/logging"
	"course-marketplace/internal/usecase"
)

const (
	maxWebhookBody = 1 << 20
	maxJSONBody    = 64 << 10
)

type Server struct {
	purchase  usecase.PurchaseUseCase
	webhook   usecase.WebhookUseCase
	access    usecase.AccessUseCase
	sigHeader string
	log       *zerolog.Logger
}

func NewServer(purchase usecase.PurchaseUseCase, webhook usecase.WebhookUseCase, access usecase.AccessUseCase, signatureHeader string, logger *zerolog.Logger) *Server {
	if signatureHeader == "" {
		signatureHeader = "Stripe-Signature"
	}
	return &Server{
		purchase:  purchase,
		webhook:   webhook,
		access:    access,
		sigHeader: signatureHeader,
		log:       logger,
	}
}

// Routes builds the public router. The webhook and probes sit outside auth.
func (s *Server) Routes(auth *Authenticator, timeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/v1/payments/webhook", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/api/v1/payments/intents", s.handleCreateIntent)
		r.Get("/api/v1/payments/intents/{intentId}", s.handleGetIntent)
		r.Post("/api/v1/payments/intents/{intentId}/cancel", s.handleCancelIntent)
		r.Get("/api/v1/courses/{courseId}/access", s.handleAccess)
		r.Get("/api/v1/enrollments", s.handleListEnrollments)
	})
	return r
}

// ===== wire types =====

type createIntentRequest struct {
	CourseID string          `json:"courseId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type createIntentResponse struct {
	PaymentRequired bool   `json:"paymentRequired"`
	GatewayIntentID string `json:"gatewayIntentId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
	CourseID        string `json:"courseId,omitempty"`
}

type intentView struct {
	GatewayIntentID string          `json:"gatewayIntentId"`
	Status          string          `json:"status"`
	CourseID        string          `json:"courseId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type accessView struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

type enrollmentView struct {
	CourseID        string          `json:"courseId"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	Source          string          `json:"source"`
	PaymentIntentID *string         `json:"paymentIntentId"`
	PurchasedAt     time.Time       `json:"purchasedAt"`
}

type enrollmentList struct {
	Items []enrollmentView `json:"items"`
}

type webhookAck struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// ===== handlers =====

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())

	var req createIntentRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, errors.Join(domain.ErrInvalidArgument, err))
		return
	}

	res, err := s.purchase.CreateIntent(r.Context(), userID, req.CourseID, req.Amount, req.Currency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.PaymentRequired {
		writeJSON(w, http.StatusOK, createIntentResponse{PaymentRequired: false, CourseID: res.CourseID})
		return
	}
	writeJSON(w, http.StatusCreated, createIntentResponse{
		PaymentRequired: true,
		GatewayIntentID: res.GatewayIntentID,
		ClientSecret:    res.ClientSecret,
		CourseID:        res.CourseID,
	})
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	intentID, ok := s.pathParam(w, r, "intentId")
	if !ok {
		return
	}
	userID, _ := logging.UserID(r.Context())
	p, err := s.purchase.GetIntentStatus(r.Context(), userID, intentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentView(p))
}

func (s *Server) handleCancelIntent(w http.ResponseWriter, r *http.Request) {
	intentID, ok := s.pathParam(w, r, "intentId")
	if !ok {
		return
	}
	userID, _ := logging.UserID(r.Context())
	p, err := s.purchase.CancelIntent(r.Context(), userID, intentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentView(p))
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathParam(w, r, "courseId")
	if !ok {
		return
	}
	userID, _ := logging.UserID(r.Context())
	d, err := s.access.HasAccess(r.Context(), userID, courseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessView{Granted: d.Granted, Reason: string(d.Reason)})
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())
	items, err := s.purchase.ListEnrollments(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := enrollmentList{Items: make([]enrollmentView, 0, len(items))}
	for _, e := range items {
		out.Items = append(out.Items, enrollmentView{
			CourseID:        e.CourseID,
			AmountPaid:      e.AmountPaid,
			Source:          string(e.Source),
			PaymentIntentID: e.PaymentIntentID,
			PurchasedAt:     e.PurchasedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWebhook passes the raw body to the verifier untouched; re-encoding
// would break the signature.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "invalid_argument", Message: "unreadable body"}})
		return
	}
	if len(payload) > maxWebhookBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: errorDetail{Code: "payload_too_large", Message: "payload too large"}})
		return
	}

	res, err := s.webhook.ApplyEvent(r.Context(), payload, r.Header.Get(s.sigHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == usecase.WebhookRejected {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, webhookAck{Outcome: string(res.Outcome), Reason: res.Reason})
}

// ===== helpers =====

func (s *Server) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithLocation("simple", false, name, runtime.ParamLocationPath, chi.URLParam(r, name), &v)
	if err != nil || v == "" {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return "", false
	}
	return v, true
}

func toIntentView(p *model.PaymentIntent) intentView {
	return intentView{
		GatewayIntentID: p.GatewayIntentID,
		Status:          string(p.Status),
		CourseID:        p.CourseID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		CreatedAt:       p.CreatedAt,
	}
}

// statusFor maps every domain error kind to its HTTP status and body code.
func statusFor(kind domain.ErrorKind) (int, string) {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound, "not_found"
	case domain.KindAlreadyOwned:
		return http.StatusConflict, "already_owned"
	case domain.KindAmountMismatch:
		return http.StatusUnprocessableEntity, "amount_mismatch"
	case domain.KindGatewayUnavailable:
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case domain.KindGatewayRejected:
		return http.StatusBadGateway, "gateway_rejected"
	case domain.KindInvalidSignature:
		return http.StatusBadRequest, "invalid_signature"
	case domain.KindAlreadySettled:
		return http.StatusOK, "already_settled"
	case domain.KindInvalidArgument:
		return http.StatusBadRequest, "invalid_argument"
	case domain.KindInvalidState:
		return http.StatusConflict, "invalid_state"
	case domain.KindConflict:
		return http.StatusConflict, "purchase_in_progress"
	case domain.KindRateLimited:
		return http.StatusTooManyRequests, "rate_limited"
	case domain.KindAlreadyExists, domain.KindInternal, domain.KindUnknown:
		return http.StatusInternalServerError, "internal"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(domain.KindOf(err))
	msg := "internal error"
	var de *domain.Error
	if code != "internal" && errors.As(err, &de) {
		msg = de.Msg
	}

	l := logging.With(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Str("code", code).Msg("request failed")
	} else {
		l.Debug().Err(err).Str("code", code).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
