// Package intent maps raw customer utterances to the small label set the
// conversation router works with. All keyword vocabulary lives here so the
// precedence rules are applied in exactly one place.
package intent

import (
	"strings"

	"quote-agent/internal/domain"
)

// Kind is the primary classification of an utterance.
type Kind string

const (
	KindNone         Kind = "none"
	KindConfirmation Kind = "confirmation"
	KindNegation     Kind = "negation"
	KindQuestion     Kind = "question"
)

// Topic is the subject of a question.
type Topic string

const (
	TopicNone      Topic = ""
	TopicCoverage  Topic = "coverage"
	TopicPricing   Topic = "pricing"
	TopicPurchase  Topic = "purchase"
	TopicClaims    Topic = "claims"
	TopicDocuments Topic = "documents"
	TopicOther     Topic = "other"
)

// Request names an artifact the customer explicitly asked for.
type Request string

const (
	RequestNone      Request = ""
	RequestValuation Request = "valuation"
	RequestPolicy    Request = "policy"
	RequestAudio     Request = "audio"
)

// Intent is the classified form of one utterance.
type Intent struct {
	Kind    Kind
	Topic   Topic
	Request Request
	Text    string
}

// Empty reports whether there was no usable input at all.
func (i Intent) Empty() bool { return strings.TrimSpace(i.Text) == "" }

func (i Intent) IsQuestion() bool     { return i.Kind == KindQuestion }
func (i Intent) IsConfirmation() bool { return i.Kind == KindConfirmation }
func (i Intent) IsNegation() bool     { return i.Kind == KindNegation }

// Wants reports whether the utterance explicitly asks for r. Questions and
// negations that merely mention an artifact ("¿cuánto cuesta la póliza?",
// "no quiero el audio") are not requests.
func (i Intent) Wants(r Request) bool {
	return r != RequestNone && i.Request == r && i.Kind != KindQuestion && i.Kind != KindNegation
}

var topicVocabulary = []struct {
	topic Topic
	words []string
}{
	{TopicCoverage, []string{"cobertura", "coberturas", "cubre", "cubren", "incluye", "protege", "explica", "explicame"}},
	{TopicPricing, []string{"precio", "costo", "cuesta", "prima", "pago", "pagar", "cuanto"}},
	{TopicPurchase, []string{"contratar", "comprar", "adquirir", "firmar"}},
	{TopicClaims, []string{"siniestro", "dano", "danos", "accidente", "reclamo"}},
	{TopicDocuments, []string{"documentos", "papeles", "requisitos"}},
}

var (
	confirmationWords   = []string{"si", "ok", "okay", "vale", "dale", "correcto", "procede", "adelante", "generar", "genera", "acepto", "calcular", "calcula", "yes", "claro", "perfecto", "listo"}
	confirmationPhrases = []string{"de acuerdo", "esta bien", "por supuesto"}
	negationWords       = []string{"no", "espera", "todavia", "aun", "cancelar", "cancela", "despues", "luego", "nunca"}
	negationPhrases     = []string{"mejor no", "por ahora no", "no gracias"}

	requestVocabulary = []struct {
		request Request
		words   []string
	}{
		{RequestAudio, []string{"audio", "escuchar", "resumen"}},
		{RequestPolicy, []string{"poliza", "policy", "emitir", "emite"}},
		{RequestValuation, []string{"valuacion", "valoracion", "cotizacion", "cotizar", "cotiza"}},
	}
)

// Classifier is the keyword-based implementation of the intent contract.
type Classifier struct{}

func NewClassifier() Classifier { return Classifier{} }

// Classify labels text. Precedence: question vocabulary wins over negation,
// which wins over confirmation.
func (Classifier) Classify(text string) Intent {
	in := Intent{Kind: KindNone, Text: strings.TrimSpace(text)}
	if in.Empty() {
		return in
	}
	tokens := domain.Tokens(in.Text)
	padded := " " + strings.Join(tokens, " ") + " "

	in.Request = detectRequest(tokens)

	if topic, ok := detectTopic(tokens); ok {
		in.Kind = KindQuestion
		in.Topic = topic
		return in
	}
	if strings.ContainsAny(in.Text, "?¿") {
		in.Kind = KindQuestion
		in.Topic = TopicOther
		return in
	}
	if containsAny(tokens, negationWords) || containsPhrase(padded, negationPhrases) {
		in.Kind = KindNegation
		return in
	}
	if containsAny(tokens, confirmationWords) || containsPhrase(padded, confirmationPhrases) {
		in.Kind = KindConfirmation
		return in
	}
	return in
}

// TopicOf buckets a question for the sales hub. Inputs without question
// vocabulary fall into TopicOther.
func TopicOf(text string) Topic {
	if topic, ok := detectTopic(domain.Tokens(text)); ok {
		return topic
	}
	return TopicOther
}

func detectTopic(tokens []string) (Topic, bool) {
	for _, entry := range topicVocabulary {
		if containsAny(tokens, entry.words) {
			return entry.topic, true
		}
	}
	return TopicNone, false
}

func detectRequest(tokens []string) Request {
	for _, entry := range requestVocabulary {
		if containsAny(tokens, entry.words) {
			return entry.request
		}
	}
	return RequestNone
}

func containsAny(tokens, words []string) bool {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func containsPhrase(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
