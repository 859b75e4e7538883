package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/luguanhuang/nano-banana/pkg/observability"
)

// Model produces an image for a request. *Client implements it.
type Model interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Archive stores generated images. *storage.ObjectStore implements it.
type Archive interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Output is a generation result plus where it was archived
type Output struct {
	*Result
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Generator runs the model and archives returned images when an archive is
// configured. Archive failures are logged and do not fail the generation.
type Generator struct {
	model   Model
	archive Archive
	metrics *observability.Metrics
	newID   func() string
}

// NewGenerator creates a generator. archive may be nil.
func NewGenerator(model Model, archive Archive, metrics *observability.Metrics) *Generator {
	return &Generator{
		model:   model,
		archive: archive,
		metrics: metrics,
		newID:   uuid.NewString,
	}
}

// Generate runs one generation for userID
func (g *Generator) Generate(ctx context.Context, userID string, req Request) (*Output, error) {
	ctx, span := observability.Tracer().Start(ctx, "imagegen.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	result, err := g.model.Generate(ctx, req)
	if err != nil {
		status := generationStatus(err)
		g.metrics.ObserveGeneration(status)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}
	span.SetAttributes(attribute.String("imagegen.model", result.Model))
	g.metrics.ObserveGeneration("succeeded")

	out := &Output{Result: result}
	if g.archive == nil || result.Image == "" {
		return out, nil
	}

	logger := observability.FromContext(ctx)
	data, contentType, err := DecodeDataURL(result.Image)
	if err != nil {
		// Remote URLs are not fetched for archiving.
		logger.WithError(err).Debug("generation result not archived")
		return out, nil
	}

	key := fmt.Sprintf("generations/%s/%s.%s", userID, g.newID(), extensionFor(contentType))
	if err := g.archive.PutObject(ctx, key, data, contentType); err != nil {
		logger.WithError(err).WithField("key", key).Warn("failed to archive generated image")
		return out, nil
	}
	out.ArchiveKey = key
	span.SetAttributes(attribute.String("imagegen.archive_key", key))
	return out, nil
}

func generationStatus(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrRefused):
		return "refused"
	default:
		return "failed"
	}
}

// DecodeDataURL decodes a base64 data URL into its bytes and media type
func DecodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("data URL has no payload")
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return nil, "", fmt.Errorf("data URL is not base64 encoded")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data URL: %w", err)
	}
	return data, contentType, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
