package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"quote-agent/internal/domain"
	"quote-agent/internal/integrations/openai"
)

const defaultPersona = "Eres Sofía, asesora comercial de Seguros Pacífico. Hablas en español peruano, " +
	"con calidez y precisión, y ayudas a dueños de negocios pequeños a asegurar su local."

type scopedAnswer struct {
	InScope bool   `json:"in_scope"`
	Answer  string `json:"answer"`
}

var scopedAnswerSchema = openai.Schema{
	Name: "scoped_answer",
	Schema: json.RawMessage(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"in_scope":{"type":"boolean"},
			"answer":{"type":"string"}
		},
		"required":["in_scope","answer"]
	}`),
}

func buildPromptMessages(persona string, st domain.ConversationState, question string, maxHistory int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildRulesPrompt()},
		{Role: domain.RoleSystem, Content: buildSessionPrompt(persona, st)},
	}
	messages = append(messages, recentHistory(st.Messages, question, maxHistory)...)
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: question})
}

func buildRulesPrompt() string {
	return strings.Join([]string{
		"Rol:",
		"Respondes preguntas de un cliente que está cotizando un seguro multirriesgo para su negocio.",
		"",
		"Tarea:",
		"Decide si la pregunta actual trata sobre el seguro, la cotización, la póliza o el proceso de contratación.",
		"Si es así, respóndela usando solo el contexto de la sesión.",
		"Si no, márcala como fuera de alcance.",
		"",
		"Reglas:",
		behaviorRules(),
		"",
		"Formato de salida:",
		outputContract(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Responde solo la pregunta actual, en español y en no más de 120 palabras.",
		"2) No inventes montos: usa únicamente las cifras del contexto de la sesión.",
		"3) No prometas coberturas que no estén en la póliza estándar (incendio, robo, responsabilidad civil, desastres naturales).",
		"4) Si falta información, dilo y sugiere el siguiente paso de la cotización.",
		"5) No pidas datos bancarios ni contraseñas.",
	}, "\n")
}

func outputContract() string {
	return "Devuelve solo JSON con las claves in_scope (booleano) y answer (texto). " +
		"Si está fuera de alcance, in_scope=false y answer=\"\". " +
		"Si está dentro, in_scope=true y answer con la respuesta final para el cliente."
}

// buildSessionPrompt describes what the conversation knows so far. Amounts
// come from stored artifacts so the model can quote them verbatim.
func buildSessionPrompt(persona string, st domain.ConversationState) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona))
	b.WriteString("\n\nContexto de la sesión:\n")

	info := st.Business
	fmt.Fprintf(&b, "- Tipo de negocio: %s\n", orUnknown(domain.Value(info.Category)))
	if info.HasArea() {
		fmt.Fprintf(&b, "- Metraje: %s m²\n", domain.FormatArea(info.Area()))
	} else {
		b.WriteString("- Metraje: desconocido\n")
	}
	fmt.Fprintf(&b, "- Dirección: %s\n", orUnknown(domain.Value(info.Address)))
	fmt.Fprintf(&b, "- Fotos del local: %d\n", len(st.Photos))

	if v := st.Valuation; v != nil {
		fmt.Fprintf(&b, "- Valuación total: %s (inventario %s, mobiliario %s, infraestructura %s)\n",
			v.Total, v.Inventory, v.Furnishings, v.Infrastructure)
	} else {
		b.WriteString("- Valuación: pendiente\n")
	}
	if p := st.Policy; p != nil {
		fmt.Fprintf(&b, "- Póliza emitida: %s, prima anual %s\n", p.Number, p.PremiumAnnual)
	}
	if st.AwaitingConfirmation {
		b.WriteString("- El cliente tiene una propuesta pendiente de confirmar.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// recentHistory returns up to limit user/assistant messages, dropping the
// trailing copy of the current question that the log already holds.
func recentHistory(log []domain.ChatMessage, question string, limit int) []domain.ChatMessage {
	if n := len(log); n > 0 && log[n-1].Role == domain.RoleUser && strings.TrimSpace(log[n-1].Content) == question {
		log = log[:n-1]
	}
	out := make([]domain.ChatMessage, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		m := log[i]
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "desconocido"
	}
	return s
}

func parseScopedAnswer(raw string) (scopedAnswer, error) {
	var out scopedAnswer
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return scopedAnswer{}, fmt.Errorf("assistant: decode scoped answer: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		if err == nil {
			return scopedAnswer{}, errors.New("assistant: decode scoped answer: multiple JSON values")
		}
		return scopedAnswer{}, fmt.Errorf("assistant: decode scoped answer trailing data: %w", err)
	}
	if out.InScope && strings.TrimSpace(out.Answer) == "" {
		return scopedAnswer{}, errors.New("assistant: scoped answer missing answer for in-scope question")
	}
	return out, nil
}
