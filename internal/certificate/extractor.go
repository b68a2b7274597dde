// Package certificate reads Peruvian operating licences (certificados de
// funcionamiento) and tells them apart from photos of the premises.
package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"quote-agent/internal/domain"
	"quote-agent/internal/imaging"
	"quote-agent/internal/integrations/openai"
)

// LLM is the slice of the OpenAI client the certificate readers use.
type LLM interface {
	ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage, schema openai.Schema) (string, error)
	VisionChat(ctx context.Context, model, prompt, mimeType string, image []byte, schema *openai.Schema) (string, error)
}

const maxDocumentRunes = 3000

const fieldsPrompt = `Analiza este certificado de funcionamiento peruano y extrae:
1. metraje: área del local (números seguidos de M², m², M^2). Ejemplo: "80.00 M²".
2. tipo_negocio: giro autorizado o actividad comercial (ej: "PANADERÍA - PASTELERÍA").
3. direccion: ubicación completa del establecimiento.
4. nombre_cliente: nombre o razón social del titular.
5. nombre_negocio: nombre comercial, si aparece.
6. ruc: número RUC (11 dígitos).
7. numero_certificado: número del certificado.
8. fecha_expedicion: fecha de expedición, en el formato original.
9. zonificacion: código de zonificación (ej: "CZ", "RDM").
10. ocupantes_maximo: aforo o número máximo de ocupantes.
Si un campo no aparece, devuelve null. No inventes datos.`

var fieldNames = []string{
	"metraje", "tipo_negocio", "direccion", "nombre_cliente", "nombre_negocio",
	"ruc", "numero_certificado", "fecha_expedicion", "zonificacion", "ocupantes_maximo",
}

var fieldsSchema = func() openai.Schema {
	props := make(map[string]any, len(fieldNames))
	for _, name := range fieldNames {
		props[name] = map[string]any{"type": []string{"string", "null"}}
	}
	raw, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             fieldNames,
	})
	return openai.Schema{Name: "certificate_fields", Schema: raw}
}()

// Extractor implements the workflow field extractor on top of a chat model.
// Text certificates go through a plain chat call; scans through vision.
type Extractor struct {
	llm    LLM
	model  string
	maxDim int
}

func NewExtractor(llm LLM, model string) (*Extractor, error) {
	if llm == nil {
		return nil, errors.New("certificate: llm must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("certificate: model must not be empty")
	}
	return &Extractor{llm: llm, model: model, maxDim: imaging.DefaultMaxDimension}, nil
}

// Extract never fails. Upstream and parse errors are logged and produce an
// empty BusinessInfo, which the conversation reports as unreadable.
func (e *Extractor) Extract(ctx context.Context, cert domain.Attachment) domain.BusinessInfo {
	reply, err := e.ask(ctx, cert)
	if err != nil {
		slog.Error("certificate extraction failed", "name", cert.Name, "err", err)
		return domain.BusinessInfo{}
	}
	raw, err := decodeFields(reply)
	if err != nil {
		slog.Warn("certificate reply was not JSON", "name", cert.Name, "err", err)
		return domain.BusinessInfo{}
	}
	info := raw.toBusinessInfo()
	slog.Debug("certificate fields extracted", "name", cert.Name, "known", info.Known())
	return info
}

func (e *Extractor) ask(ctx context.Context, cert domain.Attachment) (string, error) {
	if cert.IsEmpty() {
		return "", errors.New("certificate: empty attachment")
	}
	if cert.IsText() {
		text := []rune(cert.Text)
		if len(text) > maxDocumentRunes {
			text = text[:maxDocumentRunes]
		}
		return e.llm.ChatJSON(ctx, e.model, []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: fieldsPrompt},
			{Role: domain.RoleUser, Content: string(text)},
		}, fieldsSchema)
	}

	img, err := imaging.Prepare(cert.Data, e.maxDim)
	if err != nil {
		return "", err
	}
	return e.llm.VisionChat(ctx, e.model, fieldsPrompt, img.MIMEType, img.Data, &fieldsSchema)
}
