package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/niksmo/product-intake/internal/core/port"
)

// POST v1/products JSON or multipart (201 Created, 400 Bad request, 422 Unprocessable, 502 Bad gateway)
// GET v1/products/{id} (200 OK, 404 Not found)
// GET v1/images/{key...} (200 OK, 404 Not found)
// GET v1/categories/{category}/stats (200 OK)

const (
	mediaJSON      = "application/json"
	mediaMultipart = "multipart/form-data"

	// DefaultMaxBodySize limits a submission request, images included.
	DefaultMaxBodySize = 64 << 20

	multipartMemory = 8 << 20
)

type ProductsHandler struct {
	submitter port.Submitter
	reader    port.ProductReader
	stager    *Stager
	maxBody   int64
}

// RegisterProducts adds the products routes. Multipart submissions are
// served only with a non-nil stager.
func RegisterProducts(
	mux *http.ServeMux,
	submitter port.Submitter,
	reader port.ProductReader,
	stager *Stager,
	maxBody int64,
) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	h := ProductsHandler{submitter, reader, stager, maxBody}

	media := []string{mediaJSON}
	if stager != nil {
		media = append(media, mediaMultipart)
	}

	mux.Handle(
		"POST /v1/products",
		AllowMediaTypes(media...)(http.HandlerFunc(h.PostProducts)),
	)
	mux.HandleFunc("GET /v1/products/{id}", h.GetProduct)
}

func (h ProductsHandler) PostProducts(w http.ResponseWriter, r *http.Request) {
	const op = "ProductsHandler.PostProducts"
	log := slog.With("op", op)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	in, cleanup, err := h.readInput(r)
	if err != nil {
		h.writeInputErr(w, log, err)
		return
	}

	d, err := domain.NewDraft(in)
	if err != nil {
		cleanup()
		h.writeInputErr(w, log, err)
		return
	}

	result := h.submitter.Submit(r.Context(), d)
	o, err := result.Wait(r.Context())
	if err != nil {
		go func() {
			<-result.Done()
			cleanup()
		}()
		log.Warn("request is gone before the outcome", "err", err)
		return
	}
	cleanup()

	if !o.Success() {
		status := failureStatus(o.Err)
		writeJSON(w, log, status, errorResponse(o.Err))
		log.Error("submission failed", "status", status, "err", o.Err)
		return
	}

	writeJSON(w, log, http.StatusCreated, Submission{
		DocumentID: o.DocumentID,
		Product:    productFromDomain(o.Product),
	})

	log.Info(
		"submitted",
		"productID", o.Product.ID,
		"images", len(o.Product.Images),
		"dropped", o.Dropped(),
	)
}

func (h ProductsHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	const op = "ProductsHandler.GetProduct"
	log := slog.With("op", op)

	p, err := h.reader.Product(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "product not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to read product", http.StatusBadGateway)
		log.Error("failed to read product", "err", err)
		return
	}

	writeJSON(w, log, http.StatusOK, productFromDomain(p))
}

func (h ProductsHandler) readInput(
	r *http.Request,
) (domain.DraftInput, func(), error) {
	nop := func() {}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == mediaMultipart && h.stager != nil {
		return h.multipartInput(r)
	}

	in, err := jsonInput(r.Body)
	return in, nop, err
}

var errInvalidJSON = errors.New("invalid JSON data")

func jsonInput(body io.Reader) (domain.DraftInput, error) {
	var req DraftRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return domain.DraftInput{}, errors.Join(errInvalidJSON, err)
	}

	colors, err := parseColors(req.Colors)
	if err != nil {
		return domain.DraftInput{}, err
	}

	in := domain.DraftInput{
		Name:            req.Name,
		Category:        req.Category,
		Price:           req.Price,
		OfferPercentage: req.OfferPercentage,
		Description:     req.Description,
		Sizes:           req.Sizes,
		Colors:          colors,
	}
	for _, ref := range req.ImageRefs {
		in.ImageRefs = append(in.ImageRefs, domain.ImageRef(ref))
	}
	return in, nil
}

func (h ProductsHandler) multipartInput(
	r *http.Request,
) (domain.DraftInput, func(), error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return domain.DraftInput{}, nil, errors.Join(errInvalidMultipart, err)
	}
	form := r.MultipartForm
	defer form.RemoveAll()

	colors, err := parseColors(form.Value["colors"])
	if err != nil {
		return domain.DraftInput{}, nil, err
	}

	in := domain.DraftInput{
		Name:            formValue(form.Value, "name"),
		Category:        formValue(form.Value, "category"),
		Price:           formValue(form.Value, "price"),
		OfferPercentage: formValue(form.Value, "offer_percentage"),
		Description:     formValue(form.Value, "description"),
		Sizes:           formValue(form.Value, "sizes"),
		Colors:          colors,
	}

	files := form.File["images"]
	if len(files) == 0 {
		return in, func() {}, nil
	}

	refs, cleanup, err := h.stager.Stage(files)
	if err != nil {
		return domain.DraftInput{}, nil, err
	}
	in.ImageRefs = refs
	return in, cleanup, nil
}

var errInvalidMultipart = errors.New("invalid multipart form")

func formValue(values map[string][]string, key string) string {
	if vs := values[key]; len(vs) != 0 {
		return vs[0]
	}
	return ""
}

func parseColors(raw []string) ([]domain.Color, error) {
	var (
		colors []domain.Color
		verr   domain.ValidationError
	)
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c, err := domain.ParseColor(s)
		if err != nil {
			verr.Problems = append(verr.Problems, domain.FieldProblem{
				Field: "colors", Reason: err.Error(),
			})
			continue
		}
		colors = append(colors, c)
	}

	if len(verr.Problems) != 0 {
		return nil, &verr
	}
	return colors, nil
}

func (ProductsHandler) writeInputErr(
	w http.ResponseWriter, log *slog.Logger, err error,
) {
	var (
		verr     *domain.ValidationError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, log, http.StatusBadRequest, errorResponse(verr))
		log.Info("rejected draft", "err", verr)
	case errors.As(err, &maxBytes):
		http.Error(w, "request is too large", http.StatusRequestEntityTooLarge)
		log.Warn("request is too large", "limit", maxBytes.Limit)
	case errors.Is(err, errInvalidJSON), errors.Is(err, errInvalidMultipart):
		http.Error(w, "invalid request body", http.StatusBadRequest)
		log.Warn("failed to parse request", "err", err)
	default:
		http.Error(w, "failed to accept images", http.StatusInternalServerError)
		log.Error("failed to stage images", "err", err)
	}
}

func failureStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) ErrorResponse {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return ErrorResponse{Error: userMessage(err)}
	}

	res := ErrorResponse{Error: domain.ErrValidation.Error()}
	for _, p := range verr.Problems {
		res.Problems = append(res.Problems, Problem(p))
	}
	return res
}

// userMessage hides adapter details behind the domain sentinel text.
func userMessage(err error) string {
	for _, target := range []error{
		domain.ErrParse, domain.ErrPersistence, domain.ErrClosed,
	} {
		if errors.Is(err, target) {
			var perr *domain.ParseError
			if errors.As(err, &perr) {
				return target.Error() + ": " + perr.Field
			}
			return target.Error()
		}
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", mediaJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write response body", "err", err)
	}
}

// An ImageOpener reads back an object stored under key.
type ImageOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

type ImagesHandler struct {
	opener ImageOpener
}

func RegisterImages(mux *http.ServeMux, opener ImageOpener) {
	h := ImagesHandler{opener}
	mux.HandleFunc("GET /v1/images/{key...}", h.GetImage)
}

func (h ImagesHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	const op = "ImagesHandler.GetImage"
	log := slog.With("op", op)

	rc, contentType, err := h.opener.Open(r.Context(), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "image not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to read image", http.StatusBadGateway)
		log.Error("failed to open image", "err", err)
		return
	}
	defer rc.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		log.Error("failed to write response body", "err", err)
	}
}

type StatsHandler struct {
	reader port.StatsReader
}

func RegisterStats(mux *http.ServeMux, reader port.StatsReader) {
	h := StatsHandler{reader}
	mux.HandleFunc("GET /v1/categories/{category}/stats", h.GetStats)
}

func (h StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	const op = "StatsHandler.GetStats"
	log := slog.With("op", op)

	s, err := h.reader.CategoryStats(r.Context(), r.PathValue("category"))
	if err != nil {
		http.Error(w, "stats are unavailable", http.StatusServiceUnavailable)
		log.Error("failed to read stats", "err", err)
		return
	}

	writeJSON(w, log, http.StatusOK, statsFromDomain(s))
}
