package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// quoteEscaper matches the escaping mime/multipart applies to form file names.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// File is one upload held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ImageHost is the client for the separate image hosting service.
type ImageHost struct {
	caller
	tenant string
	site   string
}

func NewImageHost(baseURL, tenant, site string, httpClient *http.Client, logger *slog.Logger) *ImageHost {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &ImageHost{
		caller: caller{
			baseURL:    strings.TrimRight(baseURL, "/"),
			httpClient: httpClient,
			log:        logger.With("adapter", "imagehost"),
		},
		tenant: tenant,
		site:   site,
	}
}

func (h *ImageHost) scope() string {
	return url.PathEscape(h.tenant) + "/" + url.PathEscape(h.site)
}

// Upload sends files in one multipart request, each under the field "file",
// and returns the generated filenames in upload order.
func (h *ImageHost) Upload(ctx context.Context, files []File) ([]string, error) {
	const op = "upload images"
	if len(files) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+quoteEscaper.Replace(f.Name)+`"`)
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		header.Set("Content-Type", ct)
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, err := h.do(ctx, op, http.MethodPost, "/image/upload/"+h.scope(), mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	uploaded := gjson.GetBytes(body, "uploadedImages")
	if !uploaded.IsArray() {
		return nil, &ShapeError{Op: op, Err: errors.New("missing uploadedImages")}
	}
	var names []string
	for _, item := range uploaded.Array() {
		name := strings.TrimSpace(item.Get("filename").String())
		if name == "" {
			return nil, &ShapeError{Op: op, Err: errors.New("uploaded image without filename")}
		}
		names = append(names, name)
	}
	if len(names) != len(files) {
		h.log.WarnContext(ctx, "image host returned a different file count", "sent", len(files), "received", len(names))
	}
	return names, nil
}

// Delete removes a stored file. The host exposes deletion as a download
// with ?delete=both.
func (h *ImageHost) Delete(ctx context.Context, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return errors.New("delete image: empty filename")
	}
	path := "/image/download/" + h.scope() + "/" + url.PathEscape(filename) + "?delete=both"
	_, err := h.do(ctx, "delete image", http.MethodGet, path, "", nil)
	return err
}

// URL builds a public download link. quality <= 0 and an empty format leave
// the host defaults.
func (h *ImageHost) URL(filename string, quality int, format string) string {
	u := h.baseURL + "/image/download/" + h.scope() + "/" + url.PathEscape(filename)
	q := url.Values{}
	if quality > 0 {
		q.Set("quality", strconv.Itoa(quality))
	}
	if format != "" {
		q.Set("format", format)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
