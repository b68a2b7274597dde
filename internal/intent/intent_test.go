package intent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		text    string
		kind    Kind
		topic   Topic
		request Request
	}{
		{text: "", kind: KindNone},
		{text: "   ", kind: KindNone},
		{text: "sí", kind: KindConfirmation},
		{text: "Si, procede", kind: KindConfirmation},
		{text: "de acuerdo", kind: KindConfirmation},
		{text: "OK", kind: KindConfirmation},
		{text: "no", kind: KindNegation},
		{text: "mejor espera", kind: KindNegation},
		{text: "no, ok", kind: KindNegation},
		{text: "precio", kind: KindQuestion, topic: TopicPricing},
		{text: "¿Cuánto cuesta?", kind: KindQuestion, topic: TopicPricing},
		{text: "sí, pero ¿qué cubre el incendio?", kind: KindQuestion, topic: TopicCoverage},
		{text: "sí, ¿y si tengo un siniestro?", kind: KindQuestion, topic: TopicClaims},
		{text: "quiero contratar", kind: KindQuestion, topic: TopicPurchase},
		{text: "¿qué documentos piden?", kind: KindQuestion, topic: TopicDocuments},
		{text: "¿y eso?", kind: KindQuestion, topic: TopicOther},
		{text: "generar póliza", kind: KindConfirmation, request: RequestPolicy},
		{text: "sí, quiero el audio", kind: KindConfirmation, request: RequestAudio},
		{text: "¿cuánto cuesta la póliza?", kind: KindQuestion, topic: TopicPricing, request: RequestPolicy},
		{text: "hazme la cotización", kind: KindNone, request: RequestValuation},
		{text: "Tengo una panadería de 80 m2", kind: KindNone},
		{text: "nombre comercial Sinopsis", kind: KindNone},
	}

	c := NewClassifier()
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := c.Classify(tc.text)
			require.Equal(t, tc.kind, got.Kind)
			require.Equal(t, tc.topic, got.Topic)
			require.Equal(t, tc.request, got.Request)
		})
	}
}

func TestWants_IgnoresQuestions(t *testing.T) {
	c := NewClassifier()
	require.True(t, c.Classify("generar póliza").Wants(RequestPolicy))
	require.False(t, c.Classify("¿cuánto cuesta la póliza?").Wants(RequestPolicy))
	require.False(t, c.Classify("generar póliza").Wants(RequestAudio))
	require.False(t, c.Classify("no quiero el audio").Wants(RequestAudio))
	require.True(t, c.Classify("hazme la cotización").Wants(RequestValuation))
}

func TestTopicOf(t *testing.T) {
	require.Equal(t, TopicPricing, TopicOf("precio"))
	require.Equal(t, TopicOther, TopicOf("hola"))
}

func TestExtractFacts(t *testing.T) {
	info := ExtractFacts("Tengo una panadería de 80 m2")
	require.NotNil(t, info.FloorArea)
	require.Equal(t, 80.0, *info.FloorArea)
	require.NotNil(t, info.Category)
	require.Equal(t, "panadería", *info.Category)
	require.Nil(t, info.Address)

	info = ExtractFacts("son 45,5 metros cuadrados")
	require.Equal(t, 45.5, *info.FloorArea)
	require.Nil(t, info.Category)

	info = ExtractFacts("un local de 120m²")
	require.Equal(t, 120.0, *info.FloorArea)

	info = ExtractFacts("La dirección es Av. Arequipa 1234, Lince.")
	require.NotNil(t, info.Address)
	require.Equal(t, "Av. Arequipa 1234, Lince", *info.Address)

	require.True(t, ExtractFacts("hola").IsEmpty())
}

func TestAddressAnswer(t *testing.T) {
	c := NewClassifier()

	addr, ok := AddressAnswer("Jr. Puno 456, Cusco", c.Classify("Jr. Puno 456, Cusco"))
	require.True(t, ok)
	require.Equal(t, "Jr. Puno 456, Cusco", addr)

	_, ok = AddressAnswer("sí", c.Classify("sí"))
	require.False(t, ok)

	_, ok = AddressAnswer("¿para qué?", c.Classify("¿para qué?"))
	require.False(t, ok)

	_, ok = AddressAnswer("abc", c.Classify("abc"))
	require.False(t, ok)
}

func TestAreaAnswer(t *testing.T) {
	v, ok := AreaAnswer("80")
	require.True(t, ok)
	require.Equal(t, 80.0, v)

	v, ok = AreaAnswer(" 45,5 metros ")
	require.True(t, ok)
	require.Equal(t, 45.5, v)

	_, ok = AreaAnswer("80 soles al mes")
	require.False(t, ok)
	_, ok = AreaAnswer("0")
	require.False(t, ok)
}
