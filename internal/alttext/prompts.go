package alttext

import (
	"fmt"
	"strings"
)

// SystemPrompt is sent with every vision call.
const SystemPrompt = "You are an expert in accessibility, generating alt text for images."

var prompts = map[string]string{
	"en": "Generate concise alt text for this image. Prioritize clarity and brevity unless the image contains complex information like graphs or diagrams. Omit unnecessary visual details.",
	"es": "Genera un texto alternativo conciso para esta imagen. Prioriza la claridad y la brevedad a menos que la imagen contenga información compleja como gráficos o diagramas. Omite detalles visuales innecesarios.",
}

// Prompt returns the user prompt for lang.
func Prompt(lang string) string {
	if p, ok := prompts[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return p
	}
	return fmt.Sprintf("Generate alt text in %s using the same rules: be concise unless the image is a chart or diagram.", lang)
}
