package workflow

import (
	"fmt"
	"strings"

	"quote-agent/internal/domain"
)

const welcomeMessage = `¡Hola! 👋 Soy tu agente de seguros comerciales de Seguros Pacífico.

Estoy aquí para ayudarte a crear una póliza personalizada para tu negocio. Puedo trabajar con:
📄 Certificados de funcionamiento (texto o foto)
📷 Fotos de tu local comercial
💬 Información que me proporciones directamente

¿Podrías empezar compartiéndome el certificado de funcionamiento o contándome sobre tu negocio?
Por ejemplo: "Tengo una panadería de 50m²".`

const (
	msgTryAgain = "Lo siento, no pude procesar tu mensaje. Por favor inténtalo de nuevo."

	msgCertificateUnreadable = "No pude leer la información del certificado. ¿Podrías indicarme el tipo de negocio y los metros cuadrados de tu local?"

	msgValuationNeedsArea = "Para calcular la valuación necesito el metraje de tu local. ¿Cuántos metros cuadrados tiene?"

	msgPolicyNeedsValuation = "Primero necesito calcular la valuación de tu negocio antes de generar la póliza."

	msgPolicyFailed = "Tu cotización sigue vigente, pero no pude generar la póliza en este momento. Escribe 'generar póliza' para reintentar."

	msgAudioOffer = "¿Te gustaría que también genere un resumen en audio de tu póliza para que puedas escuchar los puntos más importantes?"

	msgAudioNeedsPolicy = "El resumen en audio se genera a partir de tu póliza. Primero confirmemos la cotización para emitirla."

	msgAudioFailed = `✅ Tu póliza está lista.

Hubo un problema generando el audio, pero tienes disponible la póliza completa en formato texto. Si quieres, escribe 'audio' para intentarlo de nuevo.

¿Hay algo más en lo que pueda ayudarte con tu seguro?`

	msgAudioReady = `🔊 ¡Perfecto! He generado tu resumen en audio.

Tu póliza está completamente lista. Tienes disponible:
📄 Póliza completa en formato texto
🔊 Resumen en audio con los puntos principales

¿Hay algo más en lo que pueda ayudarte?`

	msgAudioDeclined = "Entendido, no generaré el audio. Tu póliza ya está lista. ¿Hay algo más en lo que pueda ayudarte?"

	msgSalesFallback = "Entiendo tu consulta. ¿En qué más puedo ayudarte con tu seguro comercial?"

	msgLoopNudge = "Vamos paso a paso. Para continuar, repite tu solicitud en un nuevo mensaje."

	msgPhotoAfterValuation = "📷 Foto recibida. Tu cotización ya fue calculada con la información anterior."

	msgClaims = `🚨 En caso de siniestro:
1. Llama de inmediato al 0-800-1-2345 (24/7)
2. Escribe a siniestros@segurospacifico.com.pe
3. Ten a mano la denuncia policial (si aplica) y fotos del daño
4. Reporta dentro de los 3 días calendario desde ocurrido el siniestro`
)

func categoryLabel(b domain.BusinessInfo) string {
	if domain.Value(b.Category) == string(domain.CategoryDefault) {
		return "negocio"
	}
	return domain.ValueOr(b.Category, "negocio")
}

func areaLabel(b domain.BusinessInfo) string {
	return domain.FormatArea(b.Area()) + "m²"
}

// infoRequest asks for the most important missing fact and names the action
// the answer will satisfy.
func infoRequest(st domain.ConversationState) (string, domain.Action) {
	b := st.Business
	switch {
	case !b.HasArea() && !b.HasCategory():
		return `Para cotizar tu seguro necesito saber el tipo de negocio y los metros cuadrados del local. Por ejemplo: "Tengo una panadería de 50m²".`, domain.ActionRequestInfo
	case !b.HasArea():
		return fmt.Sprintf("Perfecto, tienes un negocio de tipo %s. ¿Cuántos metros cuadrados tiene tu local?", categoryLabel(b)), domain.ActionRequestArea
	case !b.HasCategory():
		return fmt.Sprintf("Entiendo que tu local tiene %s. ¿Qué tipo de negocio es?", areaLabel(b)), domain.ActionRequestInfo
	case !b.HasAddress():
		return fmt.Sprintf(`Excelente, ya tengo la información básica de tu %s de %s.

Para una valuación precisa, ¿cuál es la dirección del local? También sube fotos que muestren el interior, el inventario, el mobiliario y la fachada.`, categoryLabel(b), areaLabel(b)), domain.ActionRequestAddress
	default:
		return fmt.Sprintf(`Excelente, ya tengo la información básica de tu %s de %s en %s.

📸 Ahora necesito fotos de tu local para hacer una valuación precisa: vista general del interior, inventario, mobiliario y fachada.`, categoryLabel(b), areaLabel(b), domain.Value(b.Address)), domain.ActionRequestPhotos
	}
}

func readinessPrompt(st domain.ConversationState) string {
	b := st.Business
	return fmt.Sprintf(`¡Excelente! Ya tengo toda la información necesaria:

• Negocio: %s
• Área: %s
• Dirección: %s
• Fotos: %d imagen(es) del local

¿Procedo a calcular la valuación de tu seguro comercial?`,
		categoryLabel(b), areaLabel(b), domain.ValueOr(b.Address, "por confirmar"), len(st.Photos))
}

// reminder restates the pending proposal.
func reminder(st domain.ConversationState) string {
	switch st.NextAction {
	case domain.ActionConfirmValuation:
		return "💡 Recordatorio: ¿procedo a calcular la valuación? Responde 'sí' cuando estés listo."
	case domain.ActionConfirmPolicy:
		return "💡 Recordatorio: ¿te parece correcta la cotización? Si estás de acuerdo, responde 'sí' para generar tu póliza oficial."
	}
	return ""
}

func noted(st domain.ConversationState) string {
	msg := "Anotado, actualicé los datos de tu negocio."
	if r := reminder(st); r != "" && st.AwaitingConfirmation {
		msg += "\n\n" + r
	}
	return msg
}

func certificateSummary(facts domain.BusinessInfo, st domain.ConversationState) string {
	var sb strings.Builder
	sb.WriteString("📄 He analizado tu certificado de funcionamiento:\n\n")
	line := func(label string, v *string) {
		if s := domain.Value(v); s != "" {
			fmt.Fprintf(&sb, "• %s: %s\n", label, s)
		}
	}
	line("Cliente", facts.ClientName)
	line("Nombre comercial", facts.TradeName)
	line("Dirección", facts.Address)
	line("Actividad", facts.Activity)
	if domain.Value(facts.Category) != string(domain.CategoryDefault) {
		line("Tipo de negocio", facts.Category)
	}
	if facts.HasArea() {
		fmt.Fprintf(&sb, "• Área: %s m²\n", domain.FormatArea(facts.Area()))
	}
	line("RUC", facts.TaxID)
	line("Certificado N°", facts.CertificateNumber)
	line("Zonificación", facts.ZoningCode)
	if facts.MaxOccupants != nil {
		fmt.Fprintf(&sb, "• Aforo: %d personas\n", *facts.MaxOccupants)
	}

	switch {
	case st.Valuation != nil:
	case !st.Business.HasArea():
		sb.WriteString("\n❓ No encontré el metraje en el certificado. ¿Cuántos metros cuadrados tiene tu local?")
	case !st.Business.HasCategory():
		sb.WriteString("\n❓ ¿Qué tipo de negocio es?")
	case len(st.Photos) == 0:
		sb.WriteString("\n📸 Siguiente paso: necesito fotos del local para hacer la valuación precisa.")
	}
	return strings.TrimSpace(sb.String())
}

func valuationIncomplete(rationale string) string {
	return rationale + " ¿Me ayudas con ese dato para continuar?"
}

func coverageAnswer(hasPolicy bool) string {
	head := "🛡️ Tu seguro incluye cobertura completa:"
	if hasPolicy {
		head = "🛡️ Coberturas activas en tu póliza:"
	}
	return head + `

🔥 Incendio y explosión: daños por fuego, rayo o explosión, y gastos de extinción
🚨 Robo y hurto: sustracción violenta o clandestina y daños por intento de robo
💧 Daños por agua: filtraciones, rotura de tuberías, lluvia e inundación
🌍 Fenómenos naturales: terremoto, maremoto, huayco y vientos huracanados
👥 Responsabilidad civil: daños a terceros hasta S/ 100,000 y defensa legal
💼 Lucro cesante: pérdida de ingresos hasta 6 meses (60% de tus ingresos promedio)

¿Te interesa alguna cobertura en particular?`
}

// pricingAnswer breaks the annual premium down by payment plan.
func pricingAnswer(st domain.ConversationState, premium domain.Money) string {
	if st.Valuation == nil {
		return "Para darte el precio exacto necesito calcular la valuación de tu negocio. ¿Podrías indicarme el metraje y el tipo de negocio?"
	}
	monthly := domain.MoneyFromFloat(premium.Float() / 12)
	daily := domain.MoneyFromFloat(monthly.Float() / 30)
	semiannual := domain.MoneyFromFloat(premium.Float() / 2 * 1.02)
	quarterly := domain.MoneyFromFloat(premium.Float() / 4 * 1.03)
	installment := domain.MoneyFromFloat(monthly.Float() * 1.05)

	head := "💰 Información de costos de tu seguro:"
	if st.Policy != nil {
		head = "💰 Costos de tu póliza " + st.Policy.Number + ":"
	}
	return fmt.Sprintf(`%s

• Prima anual: %s
• Prima mensual: %s
• Por día: solo S/ %s

Opciones de pago:
• Anual: %s (sin recargo)
• Semestral: %s por cuota (2%% de recargo)
• Trimestral: %s por cuota (3%% de recargo)
• Mensual: %s por cuota (5%% de recargo)

La prima se calcula sobre el valor total asegurado de %s.`,
		head, premium, monthly, daily.Whole(), premium, semiannual, quarterly, installment, st.Valuation.Total)
}

func purchaseAnswer(st domain.ConversationState) string {
	if st.Policy == nil {
		return "¡Perfecto! Primero necesito generar tu póliza personalizada. Cuando la cotización esté lista, responde 'sí' para emitirla."
	}
	return fmt.Sprintf(`🎉 ¡Tu póliza %s ya está lista!

Para activarla solo necesitas:
1. Copia simple de tu RUC, el certificado de funcionamiento y el DNI del representante legal
2. Pagar la primera cuota (prima anual: %s)
3. Escribirnos por WhatsApp al +51 999-123-456 o a ventas@segurospacifico.com.pe

Tu negocio queda protegido desde el momento del primer pago.`, st.Policy.Number, st.Policy.PremiumAnnual)
}

func documentsAnswer(hasPolicy bool) string {
	if !hasPolicy {
		return "Una vez que tengas tu póliza generada, te indicaré exactamente qué documentos necesitas."
	}
	return `📄 Documentos necesarios para activar tu póliza:

• RUC: copia simple vigente
• Certificado de funcionamiento
• DNI del representante legal
• Contrato de alquiler, si el local es alquilado

Puedes enviarlos a documentos@segurospacifico.com.pe o por WhatsApp al +51 999-123-456.`
}

func negationReply(st domain.ConversationState) string {
	switch st.NextAction {
	case domain.ActionConfirmValuation:
		return "Entendido. ¿Qué información necesitas aclarar antes de calcular la valuación?"
	case domain.ActionConfirmPolicy:
		return "Sin problema, tómate tu tiempo. Si tienes dudas sobre coberturas o precios, pregúntame."
	}
	return msgSalesFallback
}
