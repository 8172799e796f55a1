package server

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hrygo/jcp/plugin/vector"
	searcherrors "github.com/hrygo/jcp/server/internal/errors"
	"github.com/hrygo/jcp/server/service/search"
)

//go:embed about.md templates/*.html
var assets embed.FS

// Slider bounds of the Top-k input.
const (
	minSliderK = 5
	maxSliderK = 50
)

const defaultQueryID = "demo_0"

func renderIntro() ([]byte, error) {
	source, err := assets.ReadFile("about.md")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type templateRenderer struct {
	templates *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"distance": func(d float32) string { return strconv.FormatFloat(float64(d), 'f', 4, 32) },
		"coord": func(f *float64) string {
			if f == nil {
				return ""
			}
			return strconv.FormatFloat(*f, 'f', 3, 64)
		},
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{templates: tmpl}, nil
}

func (r *templateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

type pageData struct {
	Intro    template.HTML
	QueryID  string
	K        int
	MinK     int
	MaxK     int
	Dataset  string
	Datasets []string
	Response *search.Response
	Error    string
	// Count is the number of metadata rows of Dataset, -1 when unknown.
	Count int64
}

func (s *Server) newPage(ctx context.Context, queryID string, k int, dataset string) *pageData {
	if queryID == "" {
		queryID = defaultQueryID
	}
	if dataset == "" {
		dataset = search.DefaultDataset
	}
	count, err := s.Store.CountCellProfiles(ctx, dataset)
	if err != nil {
		slog.Warn("failed to count profiles", slog.String("dataset", dataset), slog.String("error", err.Error()))
		count = -1
	}
	return &pageData{
		Intro:    template.HTML(s.intro),
		QueryID:  queryID,
		K:        k,
		MinK:     minSliderK,
		MaxK:     min(maxSliderK, s.Search.MaxK()),
		Dataset:  dataset,
		Datasets: vector.Datasets,
		Count:    count,
	}
}

func (s *Server) index(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", s.newPage(c.Request().Context(), "", search.DefaultK, ""))
}

// searchPage renders the form with the results table, or the error inline.
func (s *Server) searchPage(c echo.Context) error {
	queryID := strings.TrimSpace(c.QueryParam("id"))
	dataset := strings.ToLower(strings.TrimSpace(c.QueryParam("dataset")))

	k, err := intParam(c, "k", search.DefaultK)
	page := s.newPage(c.Request().Context(), queryID, k, dataset)
	if err != nil {
		page.Error = err.Error()
		return c.Render(http.StatusBadRequest, "index.html", page)
	}

	resp, err := s.Search.Search(c.Request().Context(), search.Request{
		Dataset: page.Dataset,
		QueryID: page.QueryID,
		K:       k,
	})
	if err != nil {
		page.Error = err.Error()
		code := searcherrors.GetCodeFromError(err, searcherrors.ErrCodeServiceUnavailable)
		return c.Render(code.HTTPStatus(), "index.html", page)
	}
	page.Response = resp
	return c.Render(http.StatusOK, "index.html", page)
}

func intParam(c echo.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, searcherrors.InvalidArgument(name + " must be an integer").WithContext(name, raw)
	}
	return v, nil
}

func boolParam(c echo.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, searcherrors.InvalidArgument(name + " must be a boolean").WithContext(name, raw)
	}
	return v, nil
}
