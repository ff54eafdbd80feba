package classifier

import (
	"fmt"
	"strings"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

const systemPrompt = "Especialista em CNAE. Sempre confira a categoria da atividade e nunca sugira uma categoria diferente da pedida."

func buildPrompt(query string, candidates []domain.ScoredResult) string {
	var list strings.Builder
	for _, c := range candidates {
		list.WriteString(c.DisplayLabel())
		list.WriteByte('\n')
	}

	return fmt.Sprintf(`Você é especialista na CNAE 2.3 do IBGE.

TAREFA: classificar a atividade "%s" nos códigos CNAE corretos.

CNAEs PRÉ-SELECIONADOS:
%s
ANTES DE RESPONDER, CONFIRA:
1. A categoria (saúde, comércio, serviços, TI...) corresponde a "%s"?
2. O CNAE descreve exatamente a atividade pedida?

Exemplo: "dentista" → 8630504 (saúde) está certo; 6920601 (contabilidade) está errado.

Prefira subclasses específicas e evite as "não especificadas anteriormente".

Retorne APENAS um JSON array (sem markdown) com até 5 itens:
[{"code":"1234567","description":"...","confidence":0.95,"reasoning":"..."}]`, query, list.String(), query)
}
