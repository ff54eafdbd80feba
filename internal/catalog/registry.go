package catalog

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// registryNode is one item of the IBGE CNAE API (/subclasses or /classes) or one of
// its ancestors. Subclasses nest classe → grupo → divisao → secao; classes start at grupo.
type registryNode struct {
	ID        flexString    `json:"id"`
	Descricao string        `json:"descricao"`
	Secao     *registryNode `json:"secao,omitempty"`
	Divisao   *registryNode `json:"divisao,omitempty"`
	Grupo     *registryNode `json:"grupo,omitempty"`
	Classe    *registryNode `json:"classe,omitempty"`
}

func (r *registryNode) hierarchy() (section, division, group string) {
	node := r
	if node.Classe != nil {
		node = node.Classe
	}
	if g := node.Grupo; g != nil {
		group = string(g.ID)
		if d := g.Divisao; d != nil {
			division = string(d.ID)
			if s := d.Secao; s != nil {
				section = s.Descricao
			}
		}
	}
	if division == "" && r.Divisao != nil {
		division = string(r.Divisao.ID)
	}
	if section == "" && r.Secao != nil {
		section = r.Secao.Descricao
	}
	return section, division, group
}

// decodeRegistry parses the registry body into catalog entries, normalizing every
// code to 7 digits. Records without id or description are skipped.
func decodeRegistry(body []byte) ([]domain.ClassificationEntry, error) {
	var records []registryNode
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	entries := make([]domain.ClassificationEntry, 0, len(records))
	for i := range records {
		r := &records[i]
		id := strings.TrimSpace(string(r.ID))
		desc := strings.TrimSpace(r.Descricao)
		if id == "" || desc == "" {
			continue
		}
		section, division, group := r.hierarchy()
		entries = append(entries, domain.ClassificationEntry{
			Code:        cnae.NormalizeCode(id),
			Description: desc,
			Section:     section,
			Division:    division,
			Group:       group,
		})
	}
	return entries, nil
}
