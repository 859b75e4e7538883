package api

import (
	"net/http"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/imagegen"
	"github.com/luguanhuang/nano-banana/pkg/usage"
)

// GenerateResponse is the body of a successful POST /api/generate. Result
// is the image when one was returned, otherwise the model's text.
type GenerateResponse struct {
	Result     string `json:"result"`
	Image      string `json:"image,omitempty"`
	Text       string `json:"text,omitempty"`
	Model      string `json:"model"`
	ArchiveKey string `json:"archive_key,omitempty"`
	Usage      struct {
		Used  int `json:"used"`
		Limit int `json:"limit"`
	} `json:"usage"`
}

// generate validates the request, consumes one generation and calls the
// model. The unit stays consumed when the model call fails.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Generator == nil {
		writeError(w, r, imagegen.ErrNotConfigured, "")
		return
	}
	identity, _ := auth.FromContext(r.Context())

	var req imagegen.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err, "")
		return
	}

	u, allowed, err := s.opts.Quota.Consume(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, err, "Failed to check usage limit")
		return
	}
	if !allowed {
		writeError(w, r, usage.ErrQuotaExceeded, "")
		return
	}

	out, err := s.opts.Generator.Generate(r.Context(), identity.UserID, req)
	if err != nil {
		writeError(w, r, err, "Failed to generate image")
		return
	}

	resp := GenerateResponse{
		Result:     out.Image,
		Image:      out.Image,
		Text:       out.Text,
		Model:      out.Model,
		ArchiveKey: out.ArchiveKey,
	}
	if resp.Result == "" {
		resp.Result = out.Text
	}
	resp.Usage.Used = u.Used
	resp.Usage.Limit = u.Limit

	httputil.WriteSuccess(w, resp)
}
