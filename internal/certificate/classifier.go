package certificate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"quote-agent/internal/domain"
	"quote-agent/internal/imaging"
)

// classifierMaxDim is enough to tell a document from a shop interior.
const classifierMaxDim = 800

const classifyPrompt = `Analiza esta imagen y determina si es:
1. Un CERTIFICADO DE FUNCIONAMIENTO (documento oficial con texto, sellos, firmas)
2. Una FOTO DEL LOCAL COMERCIAL (interior, exterior, inventario, mobiliario)
Responde SOLO con una palabra: "certificate" o "local_photo".`

// Classifier decides what an uploaded image is. Any failure or unexpected
// reply counts as a photo of the premises.
type Classifier struct {
	llm   LLM
	model string
}

func NewClassifier(llm LLM, model string) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("certificate: llm must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("certificate: model must not be empty")
	}
	return &Classifier{llm: llm, model: model}, nil
}

func (c *Classifier) Classify(ctx context.Context, upload domain.Attachment) domain.ImageKind {
	if upload.IsText() {
		return domain.ImageCertificate
	}
	img, err := imaging.Prepare(upload.Data, classifierMaxDim)
	if err != nil {
		slog.Warn("upload is not a readable image", "name", upload.Name, "err", err)
		return domain.ImageLocalPhoto
	}
	reply, err := c.llm.VisionChat(ctx, c.model, classifyPrompt, img.MIMEType, img.Data, nil)
	if err != nil {
		slog.Error("image classification failed", "name", upload.Name, "err", err)
		return domain.ImageLocalPhoto
	}
	return parseKind(reply)
}

func parseKind(reply string) domain.ImageKind {
	r := strings.ToLower(strings.Trim(strings.TrimSpace(reply), `"'.`))
	if strings.Contains(r, "certificate") || strings.Contains(r, "certificado") {
		return domain.ImageCertificate
	}
	return domain.ImageLocalPhoto
}
